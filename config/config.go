package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 配置结构体
type Config struct {
	UPnP   UPnPConfig   `mapstructure:"upnp"`
	Probe  ProbeConfig  `mapstructure:"probe"`
	STUN   STUNConfig   `mapstructure:"stun"`
	NATPMP NATPMPConfig `mapstructure:"natpmp"`
	Log    LogConfig    `mapstructure:"log"`
}

// UPnPConfig UPnP配置
type UPnPConfig struct {
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// ProbeConfig 本地地址探测配置，按顺序尝试
type ProbeConfig struct {
	Hosts   []string      `mapstructure:"hosts"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// STUNConfig STUN配置
type STUNConfig struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NATPMPConfig NAT-PMP配置，Gateway 为空时自动发现默认网关
type NATPMPConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Gateway string        `mapstructure:"gateway"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig 加载配置文件，configPath 为空时只使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default 返回默认配置
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// UPnP默认值
	v.SetDefault("upnp.discovery_timeout", "5s")
	v.SetDefault("upnp.request_timeout", "10s")

	// 本地地址探测默认值
	v.SetDefault("probe.hosts", []string{"www.yahoo.com:80", "www.google.com:80"})
	v.SetDefault("probe.timeout", "5s")

	// STUN默认值
	v.SetDefault("stun.servers", []string{
		"stun.miwifi.com:3478",
		"stun.chat.bilibili.com:3478",
		"stun.hitv.com:3478",
		"stun.cdnbye.com:3478",
	})
	v.SetDefault("stun.timeout", "3s")

	// NAT-PMP默认值
	v.SetDefault("natpmp.enabled", true)
	v.SetDefault("natpmp.gateway", "")
	v.SetDefault("natpmp.timeout", "2s")

	// 日志默认值
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Probe.Hosts) == 0 {
		return errors.New("probe.hosts 不能为空")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout 必须大于0: %s", c.Probe.Timeout)
	}
	if c.UPnP.DiscoveryTimeout <= 0 {
		return fmt.Errorf("upnp.discovery_timeout 必须大于0: %s", c.UPnP.DiscoveryTimeout)
	}
	if c.UPnP.RequestTimeout <= 0 {
		return fmt.Errorf("upnp.request_timeout 必须大于0: %s", c.UPnP.RequestTimeout)
	}
	if c.STUN.Timeout <= 0 {
		return fmt.Errorf("stun.timeout 必须大于0: %s", c.STUN.Timeout)
	}
	if c.NATPMP.Enabled && c.NATPMP.Timeout <= 0 {
		return fmt.Errorf("natpmp.timeout 必须大于0: %s", c.NATPMP.Timeout)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("不支持的日志格式: %s", c.Log.Format)
	}
	return nil
}
