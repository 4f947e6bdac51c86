// remote-shell-mcp is an MCP server that drives interactive remote shells
// over SSH, detecting command completion from the shell prompt.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realdialog"
	"github.com/acolita/remote-shell-mcp/internal/adapters/realfs"
	"github.com/acolita/remote-shell-mcp/internal/config"
	"github.com/acolita/remote-shell-mcp/internal/engine"
	"github.com/acolita/remote-shell-mcp/internal/logging"
	"github.com/acolita/remote-shell-mcp/internal/mcp"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// Version information - set at build time.
var (
	Version   = mcp.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
		debug       bool
		addServer   bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&addServer, "add-server", false, "Interactively add a server entry to the config file and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("remote-shell-mcp version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if addServer {
		if err := runAddServer(cfg, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding server: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	slog.Info("starting remote-shell-mcp",
		slog.String("version", Version),
	)

	eng := engine.New(cfg)
	server := mcp.NewServer(cfg, eng, mcp.WithConfigPath(configPath))

	// Config hot-reload when a config file is in play.
	var configWatcher *config.Watcher
	if configPath != "" {
		var watcherErr error
		configWatcher, watcherErr = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if watcherErr != nil {
			slog.Warn("config hot-reload disabled",
				slog.String("error", watcherErr.Error()),
			)
		} else {
			slog.Info("config hot-reload enabled",
				slog.String("path", configPath),
			)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		server.Shutdown()
		if configWatcher != nil {
			configWatcher.Close()
		}
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		server.Shutdown()
		if configWatcher != nil {
			configWatcher.Close()
		}
		os.Exit(1)
	}
}

// runAddServer collects a server entry through the interactive form and
// appends it to the config file.
func runAddServer(cfg *config.Config, configPath string) error {
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	if configPath == "" {
		return fmt.Errorf("no config file path available; pass -config")
	}

	result, err := realdialog.New().ServerConfigForm(ports.ServerFormData{Port: 22})
	if err != nil {
		return fmt.Errorf("dialog: %w", err)
	}
	if !result.Confirmed {
		fmt.Println("Cancelled.")
		return nil
	}

	for _, srv := range cfg.Servers {
		if srv.Name == result.Name {
			return fmt.Errorf("server %q already exists in config", result.Name)
		}
	}

	srv := config.ServerConfig{
		Name:            result.Name,
		Host:            result.Host,
		Port:            result.Port,
		User:            result.User,
		PasswordEnv:     result.PasswordEnv,
		SudoPasswordEnv: result.SudoPasswordEnv,
	}
	if err := cfg.AddServer(configPath, srv, realfs.New()); err != nil {
		return err
	}
	fmt.Printf("Saved server %q to %s\n", result.Name, configPath)
	return nil
}
