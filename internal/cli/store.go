package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a resource",
		Long:  "Store a text resource. Content can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().StringP("name", "n", "", "File name the resource is known by (required)")
	cmd.Flags().StringP("type", "t", "", "Resource type, e.g. text, code, note")

	cmd.MarkFlagRequired("name")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	typ, _ := cmd.Flags().GetString("type")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	toolArgs := map[string]any{"content": content, "file_name": name}
	if typ != "" {
		toolArgs["resource_type"] = typ
	}
	callTool(cmd, "store_memory", toolArgs)
}
