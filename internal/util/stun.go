package util

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
	"github.com/sirupsen/logrus"
)

// STUNProber 通过 STUN 绑定请求获取本机在公网上的映射地址
type STUNProber struct {
	servers []string
	timeout time.Duration
	logger  *logrus.Logger
}

// PublicAddr STUN 观察到的公网地址
type PublicAddr struct {
	IP     net.IP
	Port   int
	Server string
}

func (a PublicAddr) String() string {
	return net.JoinHostPort(a.IP.String(), fmt.Sprint(a.Port))
}

// NewSTUNProber 创建STUN探测器
func NewSTUNProber(servers []string, timeout time.Duration, logger *logrus.Logger) *STUNProber {
	return &STUNProber{
		servers: servers,
		timeout: timeout,
		logger:  logger,
	}
}

// PublicAddress 依次查询STUN服务器，返回第一个成功的结果
func (p *STUNProber) PublicAddress(ctx context.Context) (*PublicAddr, error) {
	var lastErr error

	for _, server := range p.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ip, port, err := p.query(ctx, server)
		if err != nil {
			lastErr = err
			p.logger.WithFields(logrus.Fields{
				"server": server,
				"error":  err,
			}).Debug("STUN服务器查询失败")
			continue
		}

		p.logger.WithFields(logrus.Fields{
			"server":    server,
			"public_ip": ip.String(),
			"port":      port,
		}).Debug("STUN服务器响应成功")
		return &PublicAddr{IP: ip, Port: port, Server: server}, nil
	}

	if lastErr == nil {
		return nil, fmt.Errorf("没有配置STUN服务器")
	}
	return nil, fmt.Errorf("所有STUN服务器查询失败: %w", lastErr)
}

// query 查询单个STUN服务器
func (p *STUNProber) query(ctx context.Context, server string) (net.IP, int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", server)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	deadline := time.Now().Add(p.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, 0, err
	}

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if _, err := conn.Write(request.Raw); err != nil {
		return nil, 0, err
	}

	buffer := make([]byte, 1500)
	n, err := conn.Read(buffer)
	if err != nil {
		return nil, 0, err
	}

	var response stun.Message
	if err := stun.Decode(buffer[:n], &response); err != nil {
		return nil, 0, err
	}
	if response.TransactionID != request.TransactionID {
		return nil, 0, fmt.Errorf("STUN响应事务ID不匹配")
	}
	if response.Type != stun.BindingSuccess {
		return nil, 0, fmt.Errorf("STUN响应类型错误: %s", response.Type)
	}

	// 优先使用 XOR-MAPPED-ADDRESS，旧服务器只返回 MAPPED-ADDRESS
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(&response); err == nil {
		return xorAddr.IP, xorAddr.Port, nil
	}
	var mappedAddr stun.MappedAddress
	if err := mappedAddr.GetFrom(&response); err != nil {
		return nil, 0, fmt.Errorf("STUN响应缺少映射地址: %w", err)
	}
	return mappedAddr.IP, mappedAddr.Port, nil
}
