package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)

	RootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Run:   runConfig,
	})
}

func runStats(cmd *cobra.Command, args []string) {
	callTool(cmd, "get_memory_statistics", nil)
}

func runConfig(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("config", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		exitErr("config", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
}
