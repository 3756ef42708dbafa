// Package upnp 通过 UPnP IGD 控制协议管理网关上的静态端口映射。
package upnp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"upnpstat/config"
	"upnpstat/internal/portmapping"
	"upnpstat/internal/types"

	"github.com/huin/goupnp/soap"
	"github.com/sirupsen/logrus"
)

// maxMappingEntries 枚举上限，防止网关从不返回结束错误
const maxMappingEntries = 1024

// Gateway UPnP网关，首次使用时发现设备，之后复用同一个客户端
type Gateway struct {
	logger   *logrus.Logger
	config   config.UPnPConfig
	services []discoverFunc

	once      sync.Once
	client    igdClient
	service   string
	discovErr error
}

var _ portmapping.Provider = (*Gateway)(nil)

// NewGateway 创建UPnP网关
func NewGateway(cfg config.UPnPConfig, logger *logrus.Logger) *Gateway {
	return &Gateway{
		logger:   logger,
		config:   cfg,
		services: igdServices,
	}
}

// discover 按优先级发现IGD服务，结果只计算一次
func (g *Gateway) discover(ctx context.Context) (igdClient, error) {
	g.once.Do(func() {
		g.logger.Debug("开始发现UPnP设备")

		var lastErr error
		for _, svc := range g.services {
			if err := ctx.Err(); err != nil {
				lastErr = err
				break
			}

			dctx, cancel := context.WithTimeout(ctx, g.config.DiscoveryTimeout)
			client, err := svc.find(dctx)
			cancel()
			if err != nil {
				lastErr = err
				g.logger.WithFields(logrus.Fields{
					"service": svc.service,
					"error":   err,
				}).Debug("未发现IGD服务")
				continue
			}

			g.client = client
			g.service = svc.service
			g.logger.WithField("service", svc.service).Info("发现UPnP网关")
			return
		}

		if lastErr == nil {
			g.discovErr = types.ErrGatewayUnavailable
			return
		}
		g.discovErr = fmt.Errorf("%w: %v", types.ErrGatewayUnavailable, lastErr)
	})

	return g.client, g.discovErr
}

// Enumerate 打开映射表游标
func (g *Gateway) Enumerate(ctx context.Context) (portmapping.Enumeration, error) {
	client, err := g.discover(ctx)
	if err != nil {
		return nil, err
	}

	externalIP, err := g.externalIP(ctx, client)
	if err != nil {
		g.logger.WithError(err).Warn("获取网关外部地址失败")
	}

	return &enumeration{
		gateway:    g,
		client:     client,
		externalIP: externalIP,
	}, nil
}

// AddMapping 添加静态映射（租期为0）
func (g *Gateway) AddMapping(ctx context.Context, externalPort uint16, protocol types.Protocol, internalPort uint16,
	internalClient string, enabled bool, description string) error {
	client, err := g.discover(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := g.requestContext(ctx)
	defer cancel()

	err = client.AddPortMappingCtx(rctx, "", externalPort, string(protocol), internalPort,
		internalClient, enabled, description, 0)
	if err != nil {
		return &types.GatewayError{Op: "add", ExternalPort: externalPort, Protocol: protocol, Err: err}
	}

	g.logger.WithFields(logrus.Fields{
		"external_port":   externalPort,
		"protocol":        protocol,
		"internal_port":   internalPort,
		"internal_client": internalClient,
		"service":         g.service,
	}).Debug("AddPortMapping成功")
	return nil
}

// RemoveMapping 删除映射
func (g *Gateway) RemoveMapping(ctx context.Context, externalPort uint16, protocol types.Protocol) error {
	client, err := g.discover(ctx)
	if err != nil {
		return err
	}

	rctx, cancel := g.requestContext(ctx)
	defer cancel()

	if err := client.DeletePortMappingCtx(rctx, "", externalPort, string(protocol)); err != nil {
		return &types.GatewayError{Op: "remove", ExternalPort: externalPort, Protocol: protocol, Err: err}
	}

	g.logger.WithFields(logrus.Fields{
		"external_port": externalPort,
		"protocol":      protocol,
		"service":       g.service,
	}).Debug("DeletePortMapping成功")
	return nil
}

// ExternalIP 返回网关报告的外部地址
func (g *Gateway) ExternalIP(ctx context.Context) (string, error) {
	client, err := g.discover(ctx)
	if err != nil {
		return "", err
	}
	return g.externalIP(ctx, client)
}

func (g *Gateway) externalIP(ctx context.Context, client igdClient) (string, error) {
	rctx, cancel := g.requestContext(ctx)
	defer cancel()

	ip, err := client.GetExternalIPAddressCtx(rctx)
	if err != nil {
		return "", fmt.Errorf("GetExternalIPAddress失败: %w", err)
	}
	return ip, nil
}

func (g *Gateway) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.config.RequestTimeout)
}

// enumeration 基于 GetGenericPortMappingEntry 的索引游标
type enumeration struct {
	gateway    *Gateway
	client     igdClient
	externalIP string
	index      uint16
	done       bool
}

func (e *enumeration) Next(ctx context.Context) (types.PortMapping, bool, error) {
	if e.done {
		return types.PortMapping{}, false, nil
	}

	rctx, cancel := e.gateway.requestContext(ctx)
	defer cancel()

	_, extPort, proto, intPort, client, enabled, desc, _, err := e.client.GetGenericPortMappingEntryCtx(rctx, e.index)
	if err != nil {
		// 网关用 SOAP 错误（通常是 713 SpecifiedArrayIndexInvalid）表示表已读完
		var fault *soap.SOAPFaultError
		if errors.As(err, &fault) {
			e.gateway.logger.WithFields(logrus.Fields{
				"index": e.index,
				"fault": fault.Error(),
			}).Debug("映射表枚举结束")
			e.done = true
			return types.PortMapping{}, false, nil
		}
		return types.PortMapping{}, false, fmt.Errorf("GetGenericPortMappingEntry(%d)失败: %w", e.index, err)
	}
	// 上限处仍能读到条目，说明表比上限更长
	if e.index >= maxMappingEntries {
		e.gateway.logger.WithField("limit", maxMappingEntries).Warn("映射条目超过枚举上限")
		e.done = true
		return types.PortMapping{}, false, fmt.Errorf("%w: gateway reports more than %d entries", types.ErrTableTruncated, maxMappingEntries)
	}
	e.index++

	return types.PortMapping{
		ExternalPort:      extPort,
		InternalPort:      intPort,
		Protocol:          types.Protocol(strings.ToUpper(proto)),
		InternalClient:    client,
		ExternalIPAddress: e.externalIP,
		Enabled:           enabled,
		Description:       desc,
	}, true, nil
}
