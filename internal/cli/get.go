package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <resource-id>",
		Short: "Retrieve a resource with its chunks",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	callTool(cmd, "get_resource", map[string]any{"resource_id": args[0]})
}
