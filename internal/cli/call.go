package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Call a tool by name",
		Long: `Call any tool with a JSON object of arguments, given as the second argument
or piped via stdin. Aliases are accepted exactly as over MCP.

  memoryd call retrieve_memory '{"query": "retry backoff", "k": 3}'`,
		Args: cobra.RangeArgs(1, 2),
		Run:  runCall,
	}

	RootCmd.AddCommand(cmd)

	RootCmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List the tools and their parameters",
		Run:   runTools,
	})
}

func runCall(cmd *cobra.Command, args []string) {
	var raw string
	if len(args) > 1 {
		raw = args[1]
	} else if stat, _ := os.Stdin.Stat(); stat != nil && stat.Mode()&os.ModeCharDevice == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		raw = string(b)
	}

	toolArgs, err := parseArgs(raw)
	if err != nil {
		exitErr("arguments", err)
	}
	callTool(cmd, args[0], toolArgs)
}

// parseArgs decodes a JSON object, keeping numbers exact.
func parseArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func runTools(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close(cmd.Context())

	type tool struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
	var out []tool
	for _, s := range a.Dispatcher.Specs() {
		out = append(out, tool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema()})
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
