package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <source-id> <target-id>",
		Short: "Create or remove a link between resources",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}

	cmd.Flags().StringP("kind", "k", "related", "Relationship kind, e.g. related, depends_on, cites")
	cmd.Flags().Float64("score", -1, "Link strength in [0,1] (omitted when negative)")
	cmd.Flags().Bool("rm", false, "Remove the link")

	RootCmd.AddCommand(cmd)

	auto := &cobra.Command{
		Use:   "autolink <resource-id> [candidate-id...]",
		Short: "Link a resource to similar resources",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAutoLink,
	}
	auto.Flags().Float64("threshold", 0.7, "Minimum similarity in [0,1]")

	RootCmd.AddCommand(auto)

	rels := &cobra.Command{
		Use:   "links <resource-id>",
		Short: "Show the links of a resource",
		Args:  cobra.ExactArgs(1),
		Run:   runLinks,
	}
	rels.Flags().String("direction", "both", "out, in or both")
	rels.Flags().Int("depth", 1, "Hops to follow, 1 to 5")

	RootCmd.AddCommand(rels)
}

func runLink(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	score, _ := cmd.Flags().GetFloat64("score")
	rm, _ := cmd.Flags().GetBool("rm")

	toolArgs := map[string]any{"source_id": args[0], "target_id": args[1], "kind": kind, "remove": rm}
	if score >= 0 {
		toolArgs["score"] = score
	}
	callTool(cmd, "link_resources", toolArgs)
}

func runAutoLink(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	toolArgs := map[string]any{"resource_id": args[0], "threshold": threshold}
	if len(args) > 1 {
		toolArgs["candidate_ids"] = args[1:]
	}
	callTool(cmd, "auto_link_documents", toolArgs)
}

func runLinks(cmd *cobra.Command, args []string) {
	direction, _ := cmd.Flags().GetString("direction")
	depth, _ := cmd.Flags().GetInt("depth")

	callTool(cmd, "get_document_relationships", map[string]any{
		"resource_id": args[0],
		"direction":   direction,
		"depth":       depth,
	})
}
