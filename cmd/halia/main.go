package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "halia/cmd/halia/docs"
	"halia/internal/config"
	"halia/internal/constants"
	"halia/internal/graph"
	"halia/internal/logger"
	"halia/pkg/logging"
)

var (
	configFile string
)

// @title           Halia Rule Engine API
// @version         1.0
// @description     REST API for defining, running and observing stream-processing rules
// @termsOfService  http://swagger.io/terms/

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   "halia",
		Short: "Rule execution engine for message streams",
		Long:  "Halia runs user-defined rule graphs that read batches from sources, transform them and deliver them to sinks",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigFile() string {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	return configFile
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rule engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if resolveConfigFile() == "" {
				earlyLog.Error("config file is required, use --config or CONFIG_FILE")
				return fmt.Errorf("config file is required")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, constants.ServiceName)

			log.InfowCtx(ctx, "Starting Halia", "storage", cfg.Storage.Type, "connectors", len(cfg.Connectors))

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

// validateCmd checks a rule file offline. With --config it also checks that
// every source and sink the graph names is declared.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rule.json>",
		Short: "Validate a rule definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read rule file: %w", err)
			}
			conf, err := parseRuleFile(data)
			if err != nil {
				return err
			}

			g, err := graph.Build(conf)
			if err != nil {
				return err
			}

			if resolveConfigFile() != "" {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				if err := checkConnectors(cfg, g); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rule is valid: %d nodes, %d edges, %d sources, %d sinks\n",
				len(conf.Nodes), len(conf.Edges), len(g.Sources), len(g.Sinks))
			return nil
		},
	}
}

// parseRuleFile accepts either a bare graph or a rule object carrying one
// under "graph".
func parseRuleFile(data []byte) (graph.Conf, error) {
	var wrapped struct {
		Graph *graph.Conf `json:"graph"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return graph.Conf{}, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if wrapped.Graph != nil {
		return *wrapped.Graph, nil
	}

	var conf graph.Conf
	if err := json.Unmarshal(data, &conf); err != nil {
		return graph.Conf{}, fmt.Errorf("failed to parse rule graph: %w", err)
	}
	return conf, nil
}

func checkConnectors(cfg *config.Config, g *graph.Graph) error {
	declared := func(id, role string) bool {
		for _, c := range cfg.Connectors {
			if c.ID == id && c.Role == role {
				return true
			}
		}
		return false
	}
	for _, s := range g.Sources {
		if !declared(s.SourceID, constants.RoleSource) {
			return fmt.Errorf("node %d: source %q is not declared", s.Node.Index, s.SourceID)
		}
	}
	for _, s := range g.Sinks {
		if !declared(s.SinkID, constants.RoleSink) {
			return fmt.Errorf("node %d: sink %q is not declared", s.Node.Index, s.SinkID)
		}
	}
	return nil
}
