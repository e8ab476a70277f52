package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored resources by similarity",
		Long:  "Rank stored chunks by similarity to the query. With --budget, hits are packed into a character budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().IntP("budget", "b", 0, "Character budget (0 for none)")

	RootCmd.AddCommand(cmd)

	patterns := &cobra.Command{
		Use:   "patterns [query]",
		Short: "Find recorded code attempts similar to a query, or the most recent ones",
		Run:   runPatterns,
	}
	patterns.Flags().IntP("limit", "l", 5, "Max results")
	patterns.Flags().String("verdict", "", "Only attempts with this verdict: pass, fail, partial")

	RootCmd.AddCommand(patterns)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	budget, _ := cmd.Flags().GetInt("budget")

	toolArgs := map[string]any{"query": strings.Join(args, " "), "limit": limit}
	if budget > 0 {
		toolArgs["budget"] = budget
	}
	callTool(cmd, "retrieve_memory", toolArgs)
}

func runPatterns(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	verdict, _ := cmd.Flags().GetString("verdict")

	toolArgs := map[string]any{"limit": limit}
	if len(args) > 0 {
		toolArgs["query"] = strings.Join(args, " ")
	}
	if verdict != "" {
		toolArgs["verdict"] = verdict
	}
	callTool(cmd, "get_code_patterns", toolArgs)
}
