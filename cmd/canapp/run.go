package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/notnil/canapp"
	"github.com/notnil/canapp/config"
	"github.com/notnil/canapp/internal/admin"
	"github.com/notnil/canapp/internal/logging"
)

// loadConfig merges the config file, the positional interface argument and
// the command line flags, in increasing precedence.
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if rootOpts.configPath != "" {
		c, err := config.Load(rootOpts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = c
	}
	if len(args) > 0 {
		cfg.Device = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = rootOpts.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = rootOpts.metricsAddr
	}
	if flags.Changed("trace") {
		cfg.TraceFrames = rootOpts.trace
	}
	if flags.Changed("filter") {
		cfg.Filter = rootOpts.filter
	}
	return cfg, cfg.Validate()
}

// withInterfaceOverride forces the device from OnPreStart, after every other
// source has been applied.
func withInterfaceOverride(cb canapp.Callbacks, device string) canapp.Callbacks {
	if device == "" {
		return cb
	}
	pre := cb.OnPreStart
	cb.OnPreStart = func(a *canapp.App) {
		if pre != nil {
			pre(a)
		}
		a.SetDevice(device)
	}
	return cb
}

func runApp(cmd *cobra.Command, args []string, cb canapp.Callbacks, opts ...canapp.Option) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{App: "canapp", Level: cfg.LogLevel, Out: cmd.ErrOrStderr()})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts = append([]canapp.Option{canapp.WithLogger(log)}, opts...)
	var reg *prometheus.Registry
	if cfg.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, canapp.WithRegistry(reg))
	}

	app, err := canapp.New(cfg, withInterfaceOverride(cb, rootOpts.device), opts...)
	if err != nil {
		return err
	}

	if reg != nil {
		srv := admin.New(reg, func() admin.Status {
			return admin.Status{
				State:     app.State().String(),
				Device:    app.Device(),
				Connected: app.Bus().Connected(),
				Timers:    app.Timers().Len(),
			}
		}, logging.Component(log, "admin"))
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Serve(srvCtx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("admin server failed")
			}
		}()
	}

	err = app.Run(ctx)
	if errors.Is(err, canapp.ErrConnectFailed) {
		_ = cmd.Help()
		fmt.Fprintf(cmd.ErrOrStderr(), "\nERROR: could not connect to SocketCAN network interface %q.\n", app.Device())
	}
	return err
}
