package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/companion/cli"
	"github.com/grovetools/companion/version"
)

// NewRootCmd returns the companion CLI's root command: a thin shell
// around companiond's start/stop/status/logs subcommands, the same way
// the teacher's `core` binary nests `groved` and friends under a single
// entrypoint rather than shipping one binary per subsystem.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "companion",
		Short: "Companion orchestration daemon and CLI",
		Long:  "Manages the companiond process that multiplexes AI coding CLI sessions to browser clients over WebSocket.",
	}

	root.AddCommand(NewCompaniondCmd())

	info := version.GetInfo()
	versionCmd := cli.NewVersionCommand("companion", cli.VersionInfo{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		BuildArch: info.Platform,
	})
	cli.SetVersionTemplate(versionCmd, cli.VersionInfo{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		BuildArch: info.Platform,
	})
	root.AddCommand(versionCmd)
	cli.SetCompactUsage(root)

	return root
}
