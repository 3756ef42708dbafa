package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"upnpstat/internal/portmapping"
	"upnpstat/internal/service"
	"upnpstat/internal/types"
	"upnpstat/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	table       []types.PortMapping
	unavailable bool
	adds        []types.PortMapping
	removes     []string
}

func (p *fakeProvider) Enumerate(context.Context) (portmapping.Enumeration, error) {
	if p.unavailable {
		return nil, types.ErrGatewayUnavailable
	}
	return &fakeCursor{p: p}, nil
}

func (p *fakeProvider) AddMapping(_ context.Context, externalPort uint16, protocol types.Protocol, internalPort uint16,
	internalClient string, enabled bool, description string) error {
	if p.unavailable {
		return types.ErrGatewayUnavailable
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
	p.adds = append(p.adds, pm)
	p.table = append(p.table, pm)
	return nil
}

func (p *fakeProvider) RemoveMapping(_ context.Context, externalPort uint16, protocol types.Protocol) error {
	if p.unavailable {
		return types.ErrGatewayUnavailable
	}
	key := (types.PortMapping{ExternalPort: externalPort, Protocol: protocol}).Key()
	p.removes = append(p.removes, key)
	for i := range p.table {
		if p.table[i].Key() == key {
			p.table = append(p.table[:i], p.table[i+1:]...)
			break
		}
	}
	return nil
}

type fakeCursor struct {
	p     *fakeProvider
	index int
}

func (c *fakeCursor) Next(context.Context) (types.PortMapping, bool, error) {
	if c.index >= len(c.p.table) {
		return types.PortMapping{}, false, nil
	}
	pm := c.p.table[c.index]
	c.index++
	return pm, true, nil
}

type fixedResolver string

func (r fixedResolver) Resolve(context.Context) (string, error) {
	if r == "" {
		return "", types.ErrLocalAddressUnresolved
	}
	return string(r), nil
}

type testEnv struct {
	provider      *fakeProvider
	stdout        *bytes.Buffer
	stderr        *bytes.Buffer
	managerBuilds int
	app           *App
}

func newTestEnv(localAddr string) *testEnv {
	env := &testEnv{
		provider: &fakeProvider{},
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
	}
	app := NewApp(env.stdout, env.stderr)
	app.newManager = func(a *App) *portmapping.Manager {
		env.managerBuilds++
		return portmapping.NewManager(env.provider, fixedResolver(localAddr), a.stdout, a.logger)
	}
	app.portActive = func(uint16, types.Protocol) bool { return true }
	env.app = app
	return env
}

func (e *testEnv) run(args ...string) int {
	return run(e.app, args)
}

func TestAdd_NormalizesProtocol(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	code := env.run("add", "8080", "tcp", "my server")
	assert.Equal(t, 0, code)

	require.Len(t, env.provider.adds, 1)
	got := env.provider.adds[0]
	assert.Equal(t, uint16(8080), got.ExternalPort)
	assert.Equal(t, uint16(8080), got.InternalPort)
	assert.Equal(t, types.TCP, got.Protocol)
	assert.Equal(t, "192.168.1.50", got.InternalClient)
	assert.True(t, got.Enabled)
	assert.Equal(t, "my server", got.Description)
	assert.Contains(t, env.stdout.String(), "Adding: Port: 8080, Protocol: TCP, Description: my server")
}

func TestAdd_InvalidInputNeverReachesCore(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOut string
	}{
		{name: "too few arguments", args: []string{"add", "80", "TCP"}, wantOut: "Invalid number of arguments"},
		{name: "too many arguments", args: []string{"add", "80", "TCP", "a", "b"}, wantOut: "Invalid number of arguments"},
		{name: "port not a number", args: []string{"add", "http", "TCP", "web"}, wantOut: "add port protocol description"},
		{name: "port zero", args: []string{"add", "0", "TCP", "web"}, wantOut: "add port protocol description"},
		{name: "port too large", args: []string{"add", "65536", "TCP", "web"}, wantOut: "add port protocol description"},
		{name: "port with sign", args: []string{"add", "+80", "TCP", "web"}, wantOut: "add port protocol description"},
		{name: "negative port", args: []string{"add", "-1", "TCP", "web"}, wantOut: "add port protocol description"},
		{name: "dash before port", args: []string{"add", "-web", "80", "TCP"}, wantOut: "add port protocol description"},
		{name: "dash protocol", args: []string{"add", "80", "-TCP", "web"}, wantOut: "Invalid protocol. Must be TCP or UDP"},
		{name: "unknown protocol", args: []string{"add", "80", "SCTP", "web"}, wantOut: "Invalid protocol. Must be TCP or UDP"},
		{name: "both protocols", args: []string{"add", "80", "TCPUDP", "web"}, wantOut: "Invalid protocol. Must be TCP or UDP"},
		{name: "padded protocol", args: []string{"add", "80", " udp ", "web"}, wantOut: "Invalid protocol. Must be TCP or UDP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv("192.168.1.50")

			code := env.run(tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, env.stdout.String(), tt.wantOut)
			assert.Zero(t, env.managerBuilds, "参数错误时不应创建管理器")
			assert.Empty(t, env.provider.adds)
		})
	}
}

func TestList(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	require.Equal(t, 0, env.run("add", "27015", "udp", "game"))
	env.stdout.Reset()

	code := env.run("list")
	assert.Equal(t, 0, code)
	assert.Contains(t, env.stdout.String(), "203.0.113.7:27015  -->  192.168.1.50:27015 (UDP)")
}

func TestList_GatewayUnavailableExitCode(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	env.provider.unavailable = true

	code := env.run("list")
	assert.Equal(t, 1, code)
	assert.Contains(t, env.stdout.String(), portmapping.MsgGatewayUnavailable)
	assert.NotContains(t, env.stderr.String(), "Error:", "已报告的错误不应重复输出")
}

func TestClear(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	require.Equal(t, 0, env.run("add", "80", "TCP", "web"))
	require.Equal(t, 0, env.run("add", "81", "TCP", "alt"))

	code := env.run("clear")
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"80/TCP", "81/TCP"}, env.provider.removes)
	assert.Empty(t, env.provider.table)
}

func TestAdd_DescriptionStartingWithDash(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	code := env.run("add", "80", "TCP", "-my server-")
	assert.Equal(t, 0, code)
	assert.NotContains(t, env.stderr.String(), "Error:")

	require.Len(t, env.provider.adds, 1)
	assert.Equal(t, "-my server-", env.provider.adds[0].Description)
	assert.Contains(t, env.stdout.String(), "Description: -my server-")
}

func TestAdd_GlobalFlagsBeforeArguments(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	code := env.run("add", "--log-level", "debug", "443", "udp", "--not-a-flag")
	assert.Equal(t, 0, code)

	require.Len(t, env.provider.adds, 1)
	assert.Equal(t, uint16(443), env.provider.adds[0].ExternalPort)
	assert.Equal(t, "--not-a-flag", env.provider.adds[0].Description)
}

func TestRemove_NegativePortPrintsUsage(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	assert.Equal(t, 1, env.run("remove", "-1", "TCP"))
	assert.Contains(t, env.stdout.String(), "Usage: upnpstat remove <port> <protocol>")
	assert.NotContains(t, env.stderr.String(), "Error:")
	assert.Zero(t, env.managerBuilds)
}

func TestRemove(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	require.Equal(t, 0, env.run("add", "80", "udp", "web"))

	assert.Equal(t, 0, env.run("remove", "80", "UDP"))
	assert.Equal(t, []string{"80/UDP"}, env.provider.removes)

	assert.Equal(t, 1, env.run("remove", "80"))
	assert.Equal(t, 1, env.run("remove", "80", "icmp"))
	assert.Len(t, env.provider.removes, 1)
}

func TestAdd_LocalAddressUnresolvedExitCode(t *testing.T) {
	env := newTestEnv("")

	code := env.run("add", "8080", "TCP", "x")
	assert.Equal(t, 1, code)
	assert.Empty(t, env.provider.adds)
}

func TestUsage(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	assert.Equal(t, 0, env.run())
	assert.Contains(t, env.stdout.String(), usageLine)

	env = newTestEnv("192.168.1.50")
	assert.Equal(t, 1, env.run("frobnicate"))
	assert.Contains(t, env.stdout.String(), usageLine)
	assert.Zero(t, env.managerBuilds)
}

func TestHelpListsCommands(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	assert.Equal(t, 0, env.run("help"))
	out := env.stdout.String()
	for _, name := range []string{"add", "clear", "list", "remove", "status"} {
		assert.Contains(t, out, name)
	}
	assert.Zero(t, env.managerBuilds)
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv("192.168.1.50")
	env.app.newStatus = func(a *App) *service.StatusService {
		return service.NewStatusService(
			fixedResolver("192.168.1.50"),
			fakeExternalIP("203.0.113.7"),
			nil,
			fakeSTUN{},
			a.stdout, a.logger,
		)
	}

	assert.Equal(t, 0, env.run("status"))
	assert.Contains(t, env.stdout.String(), "Gateway (UPnP):")
	assert.Contains(t, env.stdout.String(), "203.0.113.7")
}

type fakeExternalIP string

func (f fakeExternalIP) ExternalIP(context.Context) (string, error) { return string(f), nil }

type fakeSTUN struct{}

func (fakeSTUN) PublicAddress(context.Context) (*util.PublicAddr, error) {
	return nil, os.ErrDeadlineExceeded
}

func TestConfigAndLogFlags(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "upnpstat.log")
	cfgPath := filepath.Join(dir, "upnpstat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  format: json\n  file: "+logPath+"\n"), 0644))

	env := newTestEnv("192.168.1.50")
	code := env.run("--config", cfgPath, "--log-level", "info", "add", "8080", "TCP", "x")
	require.Equal(t, 0, code)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message"`)
	assert.True(t, strings.Contains(env.stderr.String(), "8080"))
}

func TestInvalidConfigFails(t *testing.T) {
	env := newTestEnv("192.168.1.50")

	code := env.run("--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, env.stderr.String(), "Error:")
	assert.Zero(t, env.managerBuilds)
}

func TestParsePort(t *testing.T) {
	port, err := parsePort("65535")
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), port)

	_, err = parsePort("0")
	assert.ErrorIs(t, err, types.ErrInvalidPort)
	_, err = parsePort("70000")
	assert.ErrorIs(t, err, types.ErrInvalidPort)
}
