package cli

import (
	"fmt"
	"io"
	"strconv"

	"upnpstat/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active UPnP mappings on the router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.newManager(app).List(cmd.Context())
			return reported(err)
		},
	}
}

func newClearCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all UPnP mappings on the router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reported(app.newManager(app).Clear(cmd.Context()))
		},
	}
}

func newAddCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <port> <protocol> <description>",
		Short: "Add a UPnP mapping on the router",
		Long: `Forward <port> on the gateway to the same port on this host.

The mapping points at the local address this host uses to reach the Internet.
An existing mapping with the same port and protocol is overwritten.`,
		Example: `  upnpstat add 80 TCP "My Web Server"`,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				fmt.Fprintln(app.stdout, "Invalid number of arguments")
				printAddUsage(app.stdout)
				return reported(fmt.Errorf("%w: add expects 3 arguments, got %d", types.ErrInvalidArgument, len(args)))
			}

			port, err := parsePort(args[0])
			if err != nil {
				fmt.Fprintln(app.stdout, err)
				printAddUsage(app.stdout)
				return reported(err)
			}

			protocol, err := types.ParseProtocol(args[1])
			if err != nil {
				fmt.Fprintln(app.stdout, "Invalid protocol. Must be TCP or UDP")
				return reported(err)
			}

			description := args[2]

			fmt.Fprintf(app.stdout, "Adding: Port: %d, Protocol: %s, Description: %s\n", port, protocol, description)
			if !app.portActive(port, protocol) {
				app.logger.WithFields(logrus.Fields{
					"port":     port,
					"protocol": protocol,
				}).Warn("本机没有服务监听该端口，映射会先于服务生效")
			}

			return reported(app.newManager(app).Add(cmd.Context(), port, protocol, description))
		},
	}
	positionalOnly(cmd, printAddUsage, app)
	return cmd
}

func newRemoveCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <port> <protocol>",
		Short:   "Remove a single UPnP mapping from the router",
		Example: `  upnpstat remove 80 TCP`,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				fmt.Fprintln(app.stdout, "Invalid number of arguments")
				printRemoveUsage(app.stdout)
				return reported(fmt.Errorf("%w: remove expects 2 arguments, got %d", types.ErrInvalidArgument, len(args)))
			}

			port, err := parsePort(args[0])
			if err != nil {
				fmt.Fprintln(app.stdout, err)
				return reported(err)
			}

			protocol, err := types.ParseProtocol(args[1])
			if err != nil {
				fmt.Fprintln(app.stdout, "Invalid protocol. Must be TCP or UDP")
				return reported(err)
			}

			return reported(app.newManager(app).Remove(cmd.Context(), port, protocol))
		},
	}
	positionalOnly(cmd, printRemoveUsage, app)
	return cmd
}

// positionalOnly 第一个位置参数之后不再解析标志，描述等参数可以以 "-" 开头；
// 位置参数之前的标志错误按参数错误报告并打印用法
func positionalOnly(cmd *cobra.Command, usage func(io.Writer), app *App) {
	cmd.Flags().SetInterspersed(false)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprintln(app.stdout, err)
		usage(app.stdout)
		return reported(fmt.Errorf("%w: %v", types.ErrInvalidArgument, err))
	})
}

// parsePort 解析端口号，必须是 1-65535 的无符号整数
func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidPort, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", types.ErrInvalidPort, n)
	}
	return uint16(n), nil
}

func printRemoveUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: upnpstat remove <port> <protocol>")
}

func printAddUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "add port protocol description")
	fmt.Fprintln(w, "    - port           = port number to be mapped [1..65535]")
	fmt.Fprintln(w, "    - protocol       = UDP | TCP")
	fmt.Fprintln(w, `    - description    = "a description"`)
	fmt.Fprintln(w, "Example:")
	fmt.Fprintln(w, `upnpstat add 80 TCP "My Web Server"`)
}
