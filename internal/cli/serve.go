package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/mcpserver"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory tools over MCP on stdio",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close(context.WithoutCancel(ctx))

	s, err := mcpserver.New(a.Dispatcher, logger.Named("mcp"))
	if err != nil {
		exitErr("mcp server", err)
	}
	logger.Info("serving on stdio", zap.Int("tools", len(a.Dispatcher.Specs())))
	if err := mcpserver.Serve(ctx, s, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("serve", zap.Error(err))
	}
}
