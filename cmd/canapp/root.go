package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	rootOpts = struct {
		configPath  string
		device      string
		logLevel    string
		metricsAddr string
		trace       bool
		filter      string
	}{}

	rootCmd = &cobra.Command{
		Use:   "canapp [interface]",
		Short: "Run a SocketCAN node application",
		Long: `Run the SocketCAN node application on the INTERFACE SocketCAN network
interface.

The default INTERFACE is the first one found on the Linux system, or "vcan0"
if none are found. 'ip addr | grep can' lists the available interfaces.

Press ESC or CTRL+C to exit.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, args, templateApp(cmd.OutOrStdout()))
		},
	}

	pingpongCmd = &cobra.Command{
		Use:   "pingpong [interface]",
		Short: "Echo every received frame back with its identifier plus one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, args, pingPongApp(cmd.OutOrStdout()))
		},
	}

	txkeyCmd = &cobra.Command{
		Use:   "txkey [interface]",
		Short: "Transmit frame 201h with a counter each time 't' is pressed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, args, txKeyApp(cmd.OutOrStdout()))
		},
	}

	periodicCmd = &cobra.Command{
		Use:   "periodic [interface]",
		Short: "Transmit extended frame 3F1h every 500ms, toggled with 'e' and 'd'",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, args, periodicApp(cmd.OutOrStdout()))
		},
	}

	loggerCmd = &cobra.Command{
		Use:   "logger [interface]",
		Short: "Print every received frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, args, loggerApp(cmd.OutOrStdout()))
		},
	}
)

func init() {
	addRootFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(pingpongCmd, txkeyCmd, periodicCmd, loggerCmd)
}

func addRootFlags(pf *pflag.FlagSet) {
	pf.StringVarP(&rootOpts.configPath, "config", "c", "", "TOML configuration file")
	pf.StringVarP(&rootOpts.device, "interface", "i", "", "force this CAN interface, overriding the argument and config")
	pf.StringVar(&rootOpts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&rootOpts.metricsAddr, "metrics-addr", "", "serve /metrics, /health and /state on this address")
	pf.BoolVar(&rootOpts.trace, "trace", false, "log every frame read and written")
	pf.StringVar(&rootOpts.filter, "filter", "", "only deliver frames matching this filter, e.g. 100-1ff,3f1x")
}
