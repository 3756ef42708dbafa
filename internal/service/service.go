package service

import (
	"context"

	"upnpstat/internal/util"
)

// ExternalIPSource 能报告网关外部地址的来源（UPnP、NAT-PMP）
type ExternalIPSource interface {
	ExternalIP(ctx context.Context) (string, error)
}

// PublicAddressSource 能观察本机公网地址的来源（STUN）
type PublicAddressSource interface {
	PublicAddress(ctx context.Context) (*util.PublicAddr, error)
}

// LocalAddressSource 本地地址解析
type LocalAddressSource interface {
	Resolve(ctx context.Context) (string, error)
}

// Probe 单个来源的探测结果
type Probe struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
	Err   error  `json:"-"`
}

// OK 探测是否成功
func (p Probe) OK() bool {
	return p.Err == nil && p.Value != ""
}

// Status 网络状态汇总
type Status struct {
	LocalAddress Probe    `json:"local_address"`
	UPnP         Probe    `json:"upnp"`
	NATPMP       Probe    `json:"natpmp"`
	STUN         Probe    `json:"stun"`
	Warnings     []string `json:"warnings,omitempty"`
}
