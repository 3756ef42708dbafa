// Package cli 实现 upnpstat 的命令行：list、clear、add、remove、status。
package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"upnpstat/config"
	"upnpstat/internal/localaddr"
	"upnpstat/internal/natpmp"
	"upnpstat/internal/portmapping"
	"upnpstat/internal/service"
	"upnpstat/internal/types"
	"upnpstat/internal/upnp"
	"upnpstat/internal/util"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 版本信息，通过编译时注入
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SetVersion 设置版本信息
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
}

const usageLine = "Usage: upnpstat [help | add | clear | list | remove | status]"

// reportedError 已经向用户报告过的错误，只影响退出码
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// App 命令行运行时依赖
type App struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *logrus.Logger
	logFile *os.File

	// 以下构造函数可在测试中替换
	newManager func(a *App) *portmapping.Manager
	newStatus  func(a *App) *service.StatusService
	portActive func(port uint16, protocol types.Protocol) bool
}

// NewApp 创建使用真实网关的 App
func NewApp(stdout, stderr io.Writer) *App {
	return &App{
		stdout:     stdout,
		stderr:     stderr,
		newManager: defaultManager,
		newStatus:  defaultStatus,
		portActive: util.IsPortActive,
	}
}

func (a *App) resolver() *localaddr.Resolver {
	dialer := &net.Dialer{Timeout: a.cfg.Probe.Timeout}
	return localaddr.NewResolver(dialer, a.cfg.Probe.Hosts, a.logger)
}

func defaultManager(a *App) *portmapping.Manager {
	gateway := upnp.NewGateway(a.cfg.UPnP, a.logger)
	return portmapping.NewManager(gateway, a.resolver(), a.stdout, a.logger)
}

func defaultStatus(a *App) *service.StatusService {
	gateway := upnp.NewGateway(a.cfg.UPnP, a.logger)

	var pmp service.ExternalIPSource
	if a.cfg.NATPMP.Enabled {
		pmp = natpmp.NewClient(a.cfg.NATPMP.Gateway, a.cfg.NATPMP.Timeout, a.logger)
	}

	stun := util.NewSTUNProber(a.cfg.STUN.Servers, a.cfg.STUN.Timeout, a.logger)
	return service.NewStatusService(a.resolver(), gateway, pmp, stun, a.stdout, a.logger)
}

// setup 加载配置并初始化日志
func (a *App) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logger, logFile, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.logger = logger
	a.logFile = logFile

	a.logger.WithFields(logrus.Fields{
		"config_file": a.configPath,
		"log_level":   cfg.Log.Level,
	}).Debug("配置加载完成")
	return nil
}

func (a *App) close() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// newLogger 按配置创建日志器，设置了日志文件时同时输出到 stderr 和文件
func newLogger(cfg config.LogConfig, stderr io.Writer) (*logrus.Logger, *os.File, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("无效的日志级别: %s", cfg.Level)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(stderr)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.File == "" {
		return logger, nil, nil
	}

	logFile, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("无法创建日志文件: %w", err)
	}
	logger.SetOutput(io.MultiWriter(stderr, logFile))
	return logger, logFile, nil
}

// NewRootCommand 创建根命令
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "upnpstat",
		Short: "List, add and clear static port mappings on a UPnP gateway",
		Long: `upnpstat manages static port mappings on the local UPnP Internet Gateway Device.

The gateway is queried on every invocation; nothing is stored locally.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(app.stdout, usageLine)
			if len(args) > 0 {
				return reported(fmt.Errorf("%w: unknown command %q", types.ErrInvalidArgument, args[0]))
			}
			return nil
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("upnpstat %s (commit %s, built %s)\n", version, commit, date))
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().StringVar(&app.configPath, "config", "", "配置文件路径 (YAML)，为空时使用默认值")
	root.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")

	root.AddCommand(
		newListCommand(app),
		newClearCommand(app),
		newAddCommand(app),
		newRemoveCommand(app),
		newStatusCommand(app),
	)
	return root
}

// Execute 运行命令行并返回退出码
func Execute(args []string, stdout, stderr io.Writer) int {
	return run(NewApp(stdout, stderr), args)
}

func run(app *App, args []string) int {
	defer app.close()

	root := NewRootCommand(app)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		var rep *reportedError
		if !errors.As(err, &rep) {
			fmt.Fprintf(app.stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
