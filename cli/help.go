package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// SetCompactUsage replaces cmd's usage function with a short
// "Flags: -f/--flag, --other" summary line for parent commands that
// have subcommands — the same inline-flags-for-parents idea as the
// teacher's styledHelpFunc, minus its lipgloss/theme rendering (this
// module carries no TUI styling dependency).
func SetCompactUsage(cmd *cobra.Command) {
	cmd.SetUsageFunc(compactUsageFunc)
}

func compactUsageFunc(cmd *cobra.Command) error {
	fmt.Printf("Usage:\n  %s\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Println("\nCommands:")
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				fmt.Printf("  %-12s %s\n", sub.Name(), sub.Short)
			}
		}
	}

	if flags := visibleFlags(cmd); len(flags) > 0 {
		fmt.Printf("\nFlags: %s\n", strings.Join(flags, ", "))
	}
	return nil
}

func visibleFlags(cmd *cobra.Command) []string {
	var flags []string
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		if f.Shorthand != "" {
			flags = append(flags, fmt.Sprintf("-%s/--%s", f.Shorthand, f.Name))
		} else {
			flags = append(flags, "--"+f.Name)
		}
	})
	return flags
}
