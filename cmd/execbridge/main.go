package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sameehj/execbridge/pkg/config"
	"github.com/sameehj/execbridge/pkg/env"
	"github.com/sameehj/execbridge/pkg/gateway"
	"github.com/sameehj/execbridge/pkg/interp"
	"github.com/sameehj/execbridge/pkg/mcp"
	"github.com/sameehj/execbridge/pkg/runtime/logging"
	"github.com/sameehj/execbridge/pkg/system"
	"github.com/sameehj/execbridge/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	configFile string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "execbridge",
		Short:        "File-system and interpreter tools for AI agents over MCP",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $EXECBRIDGE_CONFIG or <user config dir>/execbridge/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.SetGlobalNormalizationFunc(dashedFlags)

	root.AddCommand(serveCmd(opts))
	root.AddCommand(gatewayCmd(opts))
	root.AddCommand(httpCmd(opts))
	root.AddCommand(doctorCmd(opts))
	root.AddCommand(versionCmd())
	return root
}

// load reads .env, the config file and the environment, then builds the app.
func load(opts *rootOptions, stderr io.Writer) (*app, error) {
	if wd, err := os.Getwd(); err == nil {
		if err := env.LoadFromDir(wd); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	path := opts.configFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Debug = true
	}
	logger := logging.New(stderr, cfg.EffectiveLogLevel(), cfg.LogFormat)
	return newApp(cfg, logger)
}

// dashedFlags accepts config-style spellings such as --max_sessions.
func dashedFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			a.logger.Info("stdio_serving", "version", version.Version)
			return a.server.ServeStdio(ctx)
		},
	}
}

func gatewayCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var maxSessions int

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve MCP sessions over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Gateway.Address
			}
			if !cmd.Flags().Changed("max-sessions") {
				maxSessions = a.cfg.Gateway.MaxSessions
			}
			gw := gateway.NewServer(addr, a.server, gateway.AllowlistAuthorizer{Allowed: a.cfg.Gateway.AllowedAddrs})
			gw.SetMaxSessions(maxSessions)
			gw.SetLogger(a.logger)

			ctx, cancel := signalContext()
			defer cancel()
			return gw.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway listen address")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = unlimited)")
	return cmd
}

func httpCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve MCP over HTTP with /health and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.HTTP.Address
			}
			ctx, cancel := signalContext()
			defer cancel()
			return mcp.ServeHTTP(ctx, a.server, addr, mcp.HTTPOptions{
				Metrics:        a.metrics.Handler(),
				Authorizer:     gateway.AllowlistAuthorizer{Allowed: a.cfg.HTTP.AllowedAddrs},
				AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	return cmd
}

func doctorCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Show host, interpreter and access information",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			info, err := a.facade.RuntimeInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return printDoctor(out, info, a)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printDoctor(out io.Writer, info *interp.RuntimeInfo, a *app) error {
	if info.Host != nil {
		fmt.Fprintf(out, "OS: %s (%s %s)\nKernel: %s\nArch: %s\nShell: %s\nWSL: %t\n",
			info.Host.OS, info.Host.Platform, info.Host.PlatformVersion, info.Host.Kernel, info.Host.Arch, info.Host.Shell, info.Host.WSL)
	}
	if info.MemoryTotal != "" {
		fmt.Fprintf(out, "Memory: %s available of %s\n", info.MemoryAvailable, info.MemoryTotal)
	}
	for _, name := range []string{"python", "powershell"} {
		ip, ok := info.Interpreters[name]
		if !ok {
			continue
		}
		status := ip.Version
		if !ip.Available {
			status = "unavailable: " + ip.Error
		}
		fmt.Fprintf(out, "%s: %s (%s)\n", name, ip.Command, status)
	}
	fmt.Fprintf(out, "Scratch: %s\nVolumes: %v\nPrefixes: %v\n", info.ScratchDir, info.Access.Volumes, info.Access.Prefixes)
	fmt.Fprintf(out, "Tools: %d\nGateway: %s\nHTTP: %s\n", len(a.registry.Definitions()), a.cfg.Gateway.Address, a.cfg.HTTP.Address)
	iopts := a.cfg.InterpOptions(version.Version)
	if missing := system.MissingBins([]string{iopts.Python.Command, iopts.PowerShell.Command}); len(missing) > 0 {
		fmt.Fprintf(out, "Missing: %v\n", missing)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "execbridge "+version.String())
			return err
		},
	}
}
