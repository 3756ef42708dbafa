package portmapping

import (
	"context"
	"errors"
	"fmt"
	"io"

	"upnpstat/internal/types"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// 用户可见的报告文本
const (
	MsgGatewayUnavailable = "No UPnP-capable gateway reachable. Do you have a UPnP enabled router as your gateway?"
	MsgNoMappings         = "Router does not have any active UPnP mappings."
)

// Manager 端口映射管理器，每次调用都重新查询网关，不缓存映射
type Manager struct {
	provider Provider
	resolver AddressResolver
	out      io.Writer
	logger   *logrus.Logger
}

// NewManager 创建端口映射管理器，报告写入 out
func NewManager(provider Provider, resolver AddressResolver, out io.Writer, logger *logrus.Logger) *Manager {
	return &Manager{
		provider: provider,
		resolver: resolver,
		out:      out,
		logger:   logger,
	}
}

// List 按网关顺序列出所有映射
func (m *Manager) List(ctx context.Context) ([]types.PortMapping, error) {
	enum, err := m.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var mappings []types.PortMapping
	for {
		pm, ok, err := enum.Next(ctx)
		if err != nil {
			m.logger.WithError(err).Error("读取映射表失败")
			m.report("Failed to read mapping table: %v", err)
			return mappings, fmt.Errorf("读取映射表失败: %w", err)
		}
		if !ok {
			break
		}
		mappings = append(mappings, pm)

		m.report("Description:")
		m.report("%s", pm.Description)
		m.report(" %s:%d  -->  %s:%d (%s)", pm.ExternalIPAddress, pm.ExternalPort,
			pm.InternalClient, pm.InternalPort, pm.Protocol)
		m.report("")
	}

	if len(mappings) == 0 {
		m.report(MsgNoMappings)
	}

	m.logger.WithField("count", len(mappings)).Debug("列出端口映射完成")
	return mappings, nil
}

// Clear 删除网关上的全部映射
//
// 分两遍执行：先把游标完整读入快照，再按快照逐条删除。
// 边读边删会让基于索引的游标跳过条目。单条删除失败不会中断其余条目。
func (m *Manager) Clear(ctx context.Context) error {
	enum, err := m.enumerate(ctx)
	if err != nil {
		return err
	}

	snapshot, err := drain(ctx, enum)
	var errs error
	switch {
	case errors.Is(err, types.ErrTableTruncated):
		// 删除已读到的部分，但结果必须报告失败
		m.logger.WithError(err).WithField("read", len(snapshot)).Warn("映射表被截断")
		m.report("Mapping table truncated after %d entries; remaining mappings will not be deleted.", len(snapshot))
		errs = fmt.Errorf("读取映射表失败: %w", err)
	case err != nil:
		m.logger.WithError(err).Error("读取映射表失败")
		m.report("Failed to read mapping table, nothing deleted: %v", err)
		return fmt.Errorf("读取映射表失败: %w", err)
	}

	if len(snapshot) == 0 && errs == nil {
		m.report(MsgNoMappings)
		return nil
	}

	removed := 0
	for _, pm := range snapshot {
		m.report("Deleting: %s", pm.Description)
		if err := m.provider.RemoveMapping(ctx, pm.ExternalPort, pm.Protocol); err != nil {
			m.logger.WithFields(logrus.Fields{
				"external_port": pm.ExternalPort,
				"protocol":      pm.Protocol,
				"error":         err,
			}).Warn("删除端口映射失败")
			m.report("  failed to delete %s (%s): %v", pm.Description, pm.Key(), err)
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}

	m.logger.WithFields(logrus.Fields{
		"total":   len(snapshot),
		"removed": removed,
	}).Info("清理端口映射完成")

	return errs
}

// Add 添加 port -> 本地地址:port 的静态映射
//
// 调用方负责校验 port 在 [1, 65535] 且 protocol 为 TCP 或 UDP。
// 同一 (端口, 协议) 已存在映射时直接覆盖，由网关决定是否接受。
func (m *Manager) Add(ctx context.Context, port uint16, protocol types.Protocol, description string) error {
	localAddr, err := m.resolver.Resolve(ctx)
	if err != nil {
		m.logger.WithError(err).Error("无法确定本地地址")
		m.report("Unable to determine the local address used for Internet traffic; mapping not added.")
		if !errors.Is(err, types.ErrLocalAddressUnresolved) {
			err = fmt.Errorf("%w: %v", types.ErrLocalAddressUnresolved, err)
		}
		return err
	}
	if localAddr == "" {
		m.report("Unable to determine the local address used for Internet traffic; mapping not added.")
		return types.ErrLocalAddressUnresolved
	}

	fields := logrus.Fields{
		"external_port":   port,
		"protocol":        protocol,
		"internal_client": localAddr,
		"description":     description,
	}

	err = m.provider.AddMapping(ctx, port, protocol, port, localAddr, true, description)
	if errors.Is(err, types.ErrGatewayUnavailable) {
		m.report(MsgGatewayUnavailable)
		return err
	}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Error("添加端口映射失败")
		m.report("Failed to add mapping %d/%s -> %s:%d: %v", port, protocol, localAddr, port, err)
		return err
	}

	m.logger.WithFields(fields).Info("端口映射添加成功")
	m.report("Mapped %d/%s -> %s:%d (%s)", port, protocol, localAddr, port, description)
	return nil
}

// Remove 删除单条 (端口, 协议) 映射
func (m *Manager) Remove(ctx context.Context, port uint16, protocol types.Protocol) error {
	m.report("Deleting: %d/%s", port, protocol)

	err := m.provider.RemoveMapping(ctx, port, protocol)
	if errors.Is(err, types.ErrGatewayUnavailable) {
		m.report(MsgGatewayUnavailable)
		return err
	}
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"external_port": port,
			"protocol":      protocol,
			"error":         err,
		}).Warn("删除端口映射失败")
		m.report("  failed to delete %d/%s: %v", port, protocol, err)
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"external_port": port,
		"protocol":      protocol,
	}).Info("端口映射删除成功")
	return nil
}

// enumerate 打开游标并统一处理网关不可用
func (m *Manager) enumerate(ctx context.Context) (Enumeration, error) {
	enum, err := m.provider.Enumerate(ctx)
	if errors.Is(err, types.ErrGatewayUnavailable) {
		m.logger.WithError(err).Warn("未找到UPnP网关")
		m.report(MsgGatewayUnavailable)
		return nil, err
	}
	if err != nil {
		m.logger.WithError(err).Error("枚举端口映射失败")
		m.report("Failed to query the gateway: %v", err)
		return nil, fmt.Errorf("枚举端口映射失败: %w", err)
	}
	return enum, nil
}

// drain 把游标完整读入独立的切片，出错时同时返回已读到的条目
func drain(ctx context.Context, enum Enumeration) ([]types.PortMapping, error) {
	var snapshot []types.PortMapping
	for {
		pm, ok, err := enum.Next(ctx)
		if err != nil {
			return snapshot, err
		}
		if !ok {
			return snapshot, nil
		}
		snapshot = append(snapshot, pm)
	}
}

func (m *Manager) report(format string, args ...interface{}) {
	fmt.Fprintf(m.out, format+"\n", args...)
}
