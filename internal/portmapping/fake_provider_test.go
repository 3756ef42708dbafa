package portmapping

import (
	"context"
	"errors"
	"io"

	"upnpstat/internal/types"

	"github.com/sirupsen/logrus"
)

type addCall struct {
	ExternalPort   uint16
	Protocol       types.Protocol
	InternalPort   uint16
	InternalClient string
	Enabled        bool
	Description    string
}

type removeCall struct {
	ExternalPort uint16
	Protocol     types.Protocol
}

// liveProvider 模拟网关的实时映射表：游标按索引读取，删除会让后续条目前移
type liveProvider struct {
	table       []types.PortMapping
	unavailable bool
	failRemove  map[string]error
	failAdd     error
	cursorErrAt int
	truncateAt  int

	enumerateCalls int
	adds           []addCall
	removes        []removeCall
}

func newLiveProvider(mappings ...types.PortMapping) *liveProvider {
	return &liveProvider{table: mappings, cursorErrAt: -1}
}

func (p *liveProvider) calls() int {
	return p.enumerateCalls + len(p.adds) + len(p.removes)
}

func (p *liveProvider) Enumerate(context.Context) (Enumeration, error) {
	p.enumerateCalls++
	if p.unavailable {
		return nil, types.ErrGatewayUnavailable
	}
	return &liveCursor{p: p}, nil
}

func (p *liveProvider) AddMapping(_ context.Context, externalPort uint16, protocol types.Protocol, internalPort uint16,
	internalClient string, enabled bool, description string) error {
	p.adds = append(p.adds, addCall{externalPort, protocol, internalPort, internalClient, enabled, description})
	if p.unavailable {
		return types.ErrGatewayUnavailable
	}
	if p.failAdd != nil {
		return &types.GatewayError{Op: "add", ExternalPort: externalPort, Protocol: protocol, Err: p.failAdd}
	}

	pm := types.PortMapping{
		ExternalPort:      externalPort,
		InternalPort:      internalPort,
		Protocol:          protocol,
		InternalClient:    internalClient,
		ExternalIPAddress: "203.0.113.7",
		Enabled:           enabled,
		Description:       description,
	}
	for i := range p.table {
		if p.table[i].Key() == pm.Key() {
			p.table[i] = pm
			return nil
		}
	}
	p.table = append(p.table, pm)
	return nil
}

func (p *liveProvider) RemoveMapping(_ context.Context, externalPort uint16, protocol types.Protocol) error {
	p.removes = append(p.removes, removeCall{externalPort, protocol})
	if p.unavailable {
		return types.ErrGatewayUnavailable
	}

	key := (types.PortMapping{ExternalPort: externalPort, Protocol: protocol}).Key()
	if err, ok := p.failRemove[key]; ok {
		return &types.GatewayError{Op: "remove", ExternalPort: externalPort, Protocol: protocol, Err: err}
	}
	for i := range p.table {
		if p.table[i].Key() == key {
			p.table = append(p.table[:i], p.table[i+1:]...)
			return nil
		}
	}
	return &types.GatewayError{Op: "remove", ExternalPort: externalPort, Protocol: protocol, Err: errors.New("NoSuchEntryInArray")}
}

type liveCursor struct {
	p     *liveProvider
	index int
}

func (c *liveCursor) Next(context.Context) (types.PortMapping, bool, error) {
	if c.index == c.p.cursorErrAt {
		return types.PortMapping{}, false, errors.New("connection reset")
	}
	if c.index >= len(c.p.table) {
		return types.PortMapping{}, false, nil
	}
	if c.p.truncateAt > 0 && c.index >= c.p.truncateAt {
		return types.PortMapping{}, false, types.ErrTableTruncated
	}
	pm := c.p.table[c.index]
	c.index++
	return pm, true, nil
}

type staticResolver struct {
	addr  string
	err   error
	calls int
}

func (r *staticResolver) Resolve(context.Context) (string, error) {
	r.calls++
	return r.addr, r.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mapping(port uint16, proto types.Protocol, desc string) types.PortMapping {
	return types.PortMapping{
		ExternalPort:      port,
		InternalPort:      port,
		Protocol:          proto,
		InternalClient:    "192.168.1.10",
		ExternalIPAddress: "203.0.113.7",
		Enabled:           true,
		Description:       desc,
	}
}
