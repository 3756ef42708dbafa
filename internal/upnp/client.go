package upnp

import (
	"context"
	"fmt"

	"github.com/huin/goupnp/dcps/internetgateway2"
)

// igdClient IGD 端口映射服务的公共操作
// WANIPConnection1、WANIPConnection2、WANPPPConnection1 都满足该接口
type igdClient interface {
	GetExternalIPAddressCtx(ctx context.Context) (NewExternalIPAddress string, err error)
	GetGenericPortMappingEntryCtx(ctx context.Context, NewPortMappingIndex uint16) (
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
		err error,
	)
	AddPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMappingCtx(ctx context.Context, NewRemoteHost string, NewExternalPort uint16, NewProtocol string) error
}

// discoverFunc 发现某一种 IGD 服务
type discoverFunc struct {
	service string
	find    func(ctx context.Context) (igdClient, error)
}

// igdServices 按优先级排列：WANIPConnection2 最新，WANPPPConnection1 用于 PPPoE 路由器
var igdServices = []discoverFunc{
	{service: "WANIPConnection2", find: func(ctx context.Context) (igdClient, error) {
		clients, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx)
		if err != nil {
			return nil, err
		}
		if len(clients) == 0 {
			return nil, fmt.Errorf("未找到WANIPConnection2设备")
		}
		return clients[0], nil
	}},
	{service: "WANIPConnection1", find: func(ctx context.Context) (igdClient, error) {
		clients, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx)
		if err != nil {
			return nil, err
		}
		if len(clients) == 0 {
			return nil, fmt.Errorf("未找到WANIPConnection1设备")
		}
		return clients[0], nil
	}},
	{service: "WANPPPConnection1", find: func(ctx context.Context) (igdClient, error) {
		clients, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx)
		if err != nil {
			return nil, err
		}
		if len(clients) == 0 {
			return nil, fmt.Errorf("未找到WANPPPConnection1设备")
		}
		return clients[0], nil
	}},
}
