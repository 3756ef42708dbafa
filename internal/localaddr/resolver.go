// Package localaddr 通过向公网主机发起短连接，确定本机用于访问互联网的 IPv4 地址。
//
// 多网卡（VPN、虚拟网卡）主机上，操作系统为出站连接选择的源地址
// 才是端口映射应该指向的内部地址。
package localaddr

import (
	"context"
	"fmt"
	"net"

	"upnpstat/internal/types"

	"github.com/sirupsen/logrus"
)

// Dialer 建立出站连接，*net.Dialer 满足该接口
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver 本地地址解析器
type Resolver struct {
	dialer Dialer
	hosts  []string
	logger *logrus.Logger
}

// NewResolver 创建本地地址解析器，hosts 按顺序探测，格式为 host:port
func NewResolver(dialer Dialer, hosts []string, logger *logrus.Logger) *Resolver {
	return &Resolver{
		dialer: dialer,
		hosts:  hosts,
		logger: logger,
	}
}

// Resolve 返回第一个连接成功的探测所使用的本地 IPv4 地址
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	var lastErr error
	for _, host := range r.hosts {
		addr, err := r.probe(ctx, host)
		if err != nil {
			lastErr = err
			r.logger.WithFields(logrus.Fields{
				"host":  host,
				"error": err,
			}).Debug("探测主机连接失败")
			continue
		}

		r.logger.WithFields(logrus.Fields{
			"host":       host,
			"local_addr": addr,
		}).Debug("确定本地地址")
		return addr, nil
	}

	if lastErr == nil {
		return "", types.ErrLocalAddressUnresolved
	}
	return "", fmt.Errorf("%w: %v", types.ErrLocalAddressUnresolved, lastErr)
}

// probe 通过 IPv4 连接单个主机并读取本端地址，连接在任何路径上都会关闭
func (r *Resolver) probe(ctx context.Context, host string) (string, error) {
	conn, err := r.dialer.DialContext(ctx, "tcp4", host)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	local := conn.LocalAddr()
	if local == nil {
		return "", fmt.Errorf("连接 %s 没有本地地址", host)
	}

	ipStr, _, err := net.SplitHostPort(local.String())
	if err != nil {
		return "", fmt.Errorf("解析本地地址 %q 失败: %w", local.String(), err)
	}

	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		return "", fmt.Errorf("本地地址 %s 不是IPv4地址", ipStr)
	}
	return ip.String(), nil
}
