package util

import (
	"net"
	"strconv"

	"upnpstat/internal/types"
)

// IsPortActive 判断本机是否有服务占用该端口
//
// 通过尝试监听判断：监听失败说明端口已被占用。
// 低于 1024 的端口在非特权用户下同样会监听失败，结果仅供提示。
func IsPortActive(port uint16, protocol types.Protocol) bool {
	switch protocol {
	case types.UDP:
		return IsUDPPortActive(port)
	default:
		return IsTCPPortActive(port)
	}
}

// IsTCPPortActive 检测TCP端口是否已有服务监听
func IsTCPPortActive(port uint16) bool {
	listener, err := net.Listen("tcp", portAddr(port))
	if err != nil {
		return true
	}
	listener.Close()
	return false
}

// IsUDPPortActive 检测UDP端口是否已被占用
func IsUDPPortActive(port uint16) bool {
	conn, err := net.ListenPacket("udp", portAddr(port))
	if err != nil {
		return true
	}
	conn.Close()
	return false
}

// portAddr 所有地址上的该端口
func portAddr(port uint16) string {
	return net.JoinHostPort("", strconv.Itoa(int(port)))
}
