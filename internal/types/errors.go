package types

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable 没有可达的 UPnP 网关
	ErrGatewayUnavailable = errors.New("no UPnP-capable gateway reachable")

	// ErrLocalAddressUnresolved 所有探测主机都无法连接，无法确定本地地址
	ErrLocalAddressUnresolved = errors.New("local address unresolved")

	// ErrTableTruncated 网关映射表超过枚举上限，剩余条目未读取
	ErrTableTruncated = errors.New("mapping table truncated")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidProtocol = fmt.Errorf("%w: protocol must be TCP or UDP", ErrInvalidArgument)
	ErrInvalidPort     = fmt.Errorf("%w: port must be in [1, 65535]", ErrInvalidArgument)
)

// GatewayError 单次网关调用（添加/删除）失败
type GatewayError struct {
	Op           string
	ExternalPort uint16
	Protocol     Protocol
	Err          error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %d/%s: %v", e.Op, e.ExternalPort, e.Protocol, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
