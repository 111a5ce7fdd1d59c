package cmd

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/grovetools/companion/pkg/paths"
)

// newLogsCmd follows companiond's own log file, the way `groved logs`
// follows a workspace's log file — but companiond only ever has the one
// log stream, so there's no multi-workspace discovery or TUI here, just
// hpcloud/tail against whatever NewLogger last wrote to.
func newLogsCmd() *cobra.Command {
	var follow bool
	var tailLines int

	c := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the companiond log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := latestLogFile()
			if err != nil {
				return err
			}

			if !follow {
				return printLogFile(path, tailLines)
			}
			return followLogFile(path)
		},
	}

	c.Flags().BoolVarP(&follow, "follow", "f", false, "follow the log file as it grows")
	c.Flags().IntVar(&tailLines, "tail", 200, "number of lines to print before exiting (ignored with --follow)")
	return c
}

// latestLogFile finds the most recently modified companiond-*.log file
// in paths.LogDir(). Log files are named by date (see logging.NewLogger),
// so the newest by mtime is always the one the running daemon is
// currently writing to.
func latestLogFile() (string, error) {
	dir := paths.LogDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading log directory %s: %w", dir, err)
	}

	var candidates []os.DirEntry
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "companiond-") && strings.HasSuffix(name, ".log") {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no companiond log files found in %s", dir)
	}

	sort.Slice(candidates, func(i, j int) bool {
		infoI, errI := candidates[i].Info()
		infoJ, errJ := candidates[j].Info()
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return filepath.Join(dir, candidates[0].Name()), nil
}

func printLogFile(path string, lines int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	for _, line := range all {
		fmt.Println(line)
	}
	return nil
}

func followLogFile(path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
		Poll:     runtime.GOOS == "darwin",
	})
	if err != nil {
		return fmt.Errorf("tailing %s: %w", path, err)
	}

	fmt.Printf("following %s (ctrl-c to stop)\n", path)
	for line := range t.Lines {
		if line.Err != nil {
			fmt.Fprintf(os.Stderr, "tail error: %v\n", line.Err)
			continue
		}
		fmt.Println(line.Text)
	}
	return t.Err()
}
