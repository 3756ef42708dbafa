// upnpstat 列出、添加和清理本地 UPnP 网关上的静态端口映射。
package main

import (
	"os"

	"upnpstat/internal/cli"
)

// 版本信息，通过编译时注入
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetVersion(version, commit, date)
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
