package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDocsCommand creates a 'docs' command that prints embedded JSON
// documentation describing companiond's HTTP surface, for tooling that
// wants to introspect it without parsing --help output.
func NewDocsCommand(docsJSON []byte) *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "Print companiond's structured JSON documentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(string(docsJSON))
			return nil
		},
	}
}
