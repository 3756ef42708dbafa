package portmapping

import (
	"context"

	"upnpstat/internal/types"
)

// Provider 网关端口映射提供者
//
// Enumerate 在找不到网关时返回 types.ErrGatewayUnavailable；
// 网关可达但映射表为空时返回一个立即结束的 Enumeration。
type Provider interface {
	// Enumerate 打开网关映射表上的游标
	Enumerate(ctx context.Context) (Enumeration, error)

	// AddMapping 添加静态端口映射
	AddMapping(ctx context.Context, externalPort uint16, protocol types.Protocol, internalPort uint16,
		internalClient string, enabled bool, description string) error

	// RemoveMapping 按 (端口, 协议) 删除映射
	RemoveMapping(ctx context.Context, externalPort uint16, protocol types.Protocol) error
}

// Enumeration 网关映射表上基于索引的只进游标
//
// 游标读取的是实时表：游标打开期间删除条目会使后续条目前移。
// ok 为 false 表示表已读完。游标不可重新开始。
type Enumeration interface {
	Next(ctx context.Context) (mapping types.PortMapping, ok bool, err error)
}

// AddressResolver 确定映射应指向的本地地址
type AddressResolver interface {
	Resolve(ctx context.Context) (string, error)
}
