package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

const (
	WarnPrivateExternal = "The gateway's external address is not a public address; the gateway is itself behind NAT and mappings will not be reachable from the Internet."
	WarnDoubleNAT       = "The gateway's external address differs from the public address seen by STUN; another NAT sits between the gateway and the Internet."
)

// ErrNoSourceAvailable 所有来源都探测失败
var ErrNoSourceAvailable = errors.New("no address source available")

// privateCIDRs RFC1918 与运营商级 NAT 地址段
var privateCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"169.254.0.0/16",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR: %s", s))
		}
		nets = append(nets, ipnet)
	}
	return nets
}

func isPrivate(ip net.IP) bool {
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// StatusService 汇总本地地址、网关外部地址与 STUN 公网地址，只读
type StatusService struct {
	local  LocalAddressSource
	upnp   ExternalIPSource
	natpmp ExternalIPSource
	stun   PublicAddressSource
	out    io.Writer
	logger *logrus.Logger
}

// NewStatusService 创建状态服务，natpmp 为 nil 时跳过 NAT-PMP
func NewStatusService(local LocalAddressSource, upnp, natpmp ExternalIPSource, stun PublicAddressSource,
	out io.Writer, logger *logrus.Logger) *StatusService {
	return &StatusService{
		local:  local,
		upnp:   upnp,
		natpmp: natpmp,
		stun:   stun,
		out:    out,
		logger: logger,
	}
}

// Report 探测各来源并输出，只有全部失败时返回错误
func (s *StatusService) Report(ctx context.Context) (*Status, error) {
	status := &Status{
		LocalAddress: Probe{Name: "Local address"},
		UPnP:         Probe{Name: "Gateway (UPnP)"},
		NATPMP:       Probe{Name: "Gateway (NAT-PMP)"},
		STUN:         Probe{Name: "Public (STUN)"},
	}

	status.LocalAddress.Value, status.LocalAddress.Err = s.local.Resolve(ctx)
	status.UPnP.Value, status.UPnP.Err = s.upnp.ExternalIP(ctx)
	if s.natpmp != nil {
		status.NATPMP.Value, status.NATPMP.Err = s.natpmp.ExternalIP(ctx)
	} else {
		status.NATPMP.Err = errors.New("disabled")
	}

	var stunIP net.IP
	if addr, err := s.stun.PublicAddress(ctx); err != nil {
		status.STUN.Err = err
	} else {
		stunIP = addr.IP
		status.STUN.Value = addr.String()
	}

	status.Warnings = s.analyze(status, stunIP)

	probes := []Probe{status.LocalAddress, status.UPnP, status.NATPMP, status.STUN}
	available := 0
	for _, p := range probes {
		if p.OK() {
			available++
			s.printf("%-20s %s", p.Name+":", p.Value)
			continue
		}
		err := p.Err
		if err == nil {
			err = errors.New("empty response")
		}
		s.logger.WithFields(logrus.Fields{
			"source": p.Name,
			"error":  err,
		}).Debug("地址来源不可用")
		s.printf("%-20s unavailable (%v)", p.Name+":", err)
	}
	for _, w := range status.Warnings {
		s.printf("Warning: %s", w)
	}

	if available == 0 {
		return status, ErrNoSourceAvailable
	}
	return status, nil
}

// analyze 比较网关外部地址和STUN地址，判断是否存在多层NAT
func (s *StatusService) analyze(status *Status, stunIP net.IP) []string {
	gatewayValue := status.UPnP.Value
	if !status.UPnP.OK() {
		gatewayValue = status.NATPMP.Value
	}
	gatewayIP := net.ParseIP(gatewayValue)
	if gatewayIP == nil {
		return nil
	}

	var warnings []string
	if isPrivate(gatewayIP) {
		warnings = append(warnings, WarnPrivateExternal)
	}
	if stunIP != nil && !stunIP.Equal(gatewayIP) {
		warnings = append(warnings, WarnDoubleNAT)
	}

	if len(warnings) > 0 {
		s.logger.WithFields(logrus.Fields{
			"gateway_external_ip": gatewayIP.String(),
			"stun_ip":             fmt.Sprint(stunIP),
		}).Warn("检测到多层NAT")
	}
	return warnings
}

func (s *StatusService) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}
