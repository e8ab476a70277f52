// Package cli implements the memoryd CLI commands.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rcliao/memoryd/internal/app"
	"github.com/rcliao/memoryd/internal/config"
	"github.com/rcliao/memoryd/internal/dispatch"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	verbose    bool

	logger = zap.NewNop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Multi-tier memory for coding agents",
	Long: `memoryd stores text resources and code-generation attempts, indexes them for
similarity search, and keeps a graph of links between resources. Run
"memoryd serve" to expose the tools over MCP on stdio, or use the
subcommands directly. Every command prints a JSON envelope.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMORYD_DB_PATH or ~/.memoryd/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $MEMORYD_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or compact")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("MEMORYD_CONFIG")
	}
	overrides := map[string]any{}
	if dbPath != "" {
		overrides["db_path"] = dbPath
	}
	return config.Load(path, overrides)
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// runTool opens the app, makes one call and writes its envelope to w.
func runTool(ctx context.Context, w io.Writer, tool string, args map[string]any) (dispatch.Envelope, error) {
	a, err := openApp(ctx)
	if err != nil {
		return dispatch.Envelope{}, err
	}
	defer a.Close(context.WithoutCancel(ctx))

	env := a.Dispatcher.Call(ctx, tool, args)
	return env, writeEnvelope(w, env)
}

func writeEnvelope(w io.Writer, env dispatch.Envelope) error {
	out := env.JSON()
	if formatFlag != "compact" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, out, "", "  "); err == nil {
			out = buf.Bytes()
		}
	}
	_, err := fmt.Fprintln(w, string(out))
	return err
}

// callTool runs a tool for a subcommand and exits non-zero when the call
// fails.
func callTool(cmd *cobra.Command, tool string, args map[string]any) {
	env, err := runTool(cmd.Context(), cmd.OutOrStdout(), tool, args)
	if err != nil {
		exitErr(tool, err)
	}
	if !env.OK {
		_ = logger.Sync()
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	_ = logger.Sync()
	os.Exit(1)
}
