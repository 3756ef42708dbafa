package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol 端口映射协议
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// ParseProtocol 解析协议字符串，大小写不敏感，只接受 TCP 或 UDP
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToUpper(s)); p {
	case TCP, UDP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProtocol, s)
	}
}

func (p Protocol) String() string {
	return string(p)
}

// PortMapping 网关上的一条静态端口映射
type PortMapping struct {
	ExternalPort      uint16   `json:"external_port"`
	InternalPort      uint16   `json:"internal_port"`
	Protocol          Protocol `json:"protocol"`
	InternalClient    string   `json:"internal_client"`
	ExternalIPAddress string   `json:"external_ip_address"`
	Enabled           bool     `json:"enabled"`
	Description       string   `json:"description"`
}

// Key 返回映射的自然键 (端口, 协议)
func (m PortMapping) Key() string {
	return fmt.Sprintf("%d/%s", m.ExternalPort, m.Protocol)
}

func (m *PortMapping) String() string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
