// Package natpmp 通过 NAT-PMP 查询网关的外部地址，用于和 UPnP 的结果交叉核对。
package natpmp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/sirupsen/logrus"
)

// externalAddresser go-nat-pmp 客户端中用到的部分
type externalAddresser interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
}

// Client NAT-PMP客户端
type Client struct {
	gateway string
	timeout time.Duration
	logger  *logrus.Logger

	discoverGateway func() (net.IP, error)
	newClient       func(gw net.IP, timeout time.Duration) externalAddresser
}

// NewClient 创建NAT-PMP客户端，gatewayAddr 为空时从路由表发现默认网关
func NewClient(gatewayAddr string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		gateway:         gatewayAddr,
		timeout:         timeout,
		logger:          logger,
		discoverGateway: gateway.DiscoverGateway,
		newClient: func(gw net.IP, timeout time.Duration) externalAddresser {
			return natpmp.NewClientWithTimeout(gw, timeout)
		},
	}
}

// ExternalIP 返回网关通过 NAT-PMP 报告的外部地址
func (c *Client) ExternalIP(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	gw, err := c.resolveGateway()
	if err != nil {
		return "", err
	}

	result, err := c.newClient(gw, c.timeout).GetExternalAddress()
	if err != nil {
		return "", fmt.Errorf("NAT-PMP查询外部地址失败 (网关 %s): %w", gw, err)
	}

	ip := net.IPv4(result.ExternalIPAddress[0], result.ExternalIPAddress[1],
		result.ExternalIPAddress[2], result.ExternalIPAddress[3])

	c.logger.WithFields(logrus.Fields{
		"gateway":     gw.String(),
		"external_ip": ip.String(),
	}).Debug("NAT-PMP外部地址")
	return ip.String(), nil
}

func (c *Client) resolveGateway() (net.IP, error) {
	if c.gateway != "" {
		ip := net.ParseIP(c.gateway).To4()
		if ip == nil {
			return nil, fmt.Errorf("无效的NAT-PMP网关地址: %s", c.gateway)
		}
		return ip, nil
	}

	ip, err := c.discoverGateway()
	if err != nil {
		return nil, fmt.Errorf("发现默认网关失败: %w", err)
	}
	if ip.To4() == nil {
		return nil, fmt.Errorf("默认网关不是IPv4地址: %s", ip)
	}
	return ip.To4(), nil
}
