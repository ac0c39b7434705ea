// Command olav is the network-operations assistant's process: a single
// binary that can run as a long-lived control surface and scheduler
// (`olav serve`) or as a one-shot operator CLI against the same
// in-process components (`olav execute`, `olav inspect`, `olav search`,
// ...). There is no embedded LLM loop here -- the conversational surface
// is an external collaborator (spec §6) that would drive the Fleet
// Execution Engine and Knowledge Store through these same operations over
// its own transport; this binary exposes them directly to an operator's
// terminal instead.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olavhq/olav/internal/config"
	"github.com/olavhq/olav/internal/olaverr"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	agentDir   string
	addrFlag   string
	dsnFlag    string
	threadFlag string
)

var rootCmd = &cobra.Command{
	Use:     "olav",
	Short:   "olav is a network-operations assistant's capability, fleet, inspection and knowledge engine",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to settings.json (overrides OLAV_AGENT_DIR/settings.json)")
	rootCmd.PersistentFlags().StringVar(&agentDir, "agent-dir", "", "agent directory root (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "control-surface listen address, host:port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	rootCmd.PersistentFlags().StringVar(&threadFlag, "thread", "", "thread ID; the value is not read, each command runs in its own new thread")

	rootCmd.AddCommand(
		serveCmd,
		executeCmd,
		devicesCmd,
		inspectCmd,
		searchCmd,
		capabilitiesCmd,
		reloadCmd,
		statusCmd,
		knowledgeCmd,
	)
}

// loadConfig layers settings.json, environment, and this invocation's
// flags, in that order of increasing precedence -- the same order the
// teacher's appserver resolves --addr and --dsn in. With --config, the
// named file is applied over the compiled defaults and DATABASE_URL is the
// only environment variable read before the flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(configPath) != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(agentDir) != "" {
		cfg.Agent.Dir = agentDir
	}
	if strings.TrimSpace(addrFlag) != "" {
		host, port, splitErr := splitHostPort(addrFlag)
		if splitErr == nil {
			cfg.Server.Host, cfg.Server.Port = host, port
		}
	}
	if strings.TrimSpace(dsnFlag) != "" {
		cfg.Database.DSN = dsnFlag
	}
	return cfg, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(olaverr.ExitCode(olaverr.KindOf(err)))
	}
}
