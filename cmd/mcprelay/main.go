// Mcprelay supervises external MCP (Model Context Protocol) servers and
// exposes their tools through a host tool registry.
//
// Configuration is loaded from a single YAML file discovered automatically
// (see [config.DefaultSearchPaths]), optionally merged with per-server
// files from a directory. Positional arguments name the servers to start;
// with none, every enabled server starts.
//
// Usage:
//
//	mcprelay [flags] [server...]
//	mcprelay -version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brindle/mcprelay/internal/buildinfo"
	"github.com/brindle/mcprelay/internal/config"
	"github.com/brindle/mcprelay/internal/mcp"
	"github.com/brindle/mcprelay/internal/tools"
)

// main constructs the OS-level environment and delegates to run, keeping
// os.Exit and os.Args out of the application logic.
func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcprelay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	serversDir := fs.String("servers-dir", "", "directory of per-server YAML files merged over the config file")
	logLevel := fs.String("log-level", "", "log level override (trace, debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	path, err := config.FindConfig(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	levelStr := cfg.LogLevel
	if *logLevel != "" {
		levelStr = *logLevel
	}
	level, err := config.ParseLogLevel(levelStr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", path)

	registry := tools.NewRegistry()
	manager := mcp.NewManager(registry, logger)
	manager.AddServers(cfg.Servers)

	if *serversDir != "" {
		extra, err := config.LoadServersDir(*serversDir)
		if err != nil {
			return err
		}
		manager.AddServers(extra)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartServers(ctx, fs.Args()); err != nil {
		return err
	}

	names := manager.ServerNames()
	logger.Info("servers running",
		"servers", names,
		"tools", len(registry.Names()),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return manager.Shutdown()
}
