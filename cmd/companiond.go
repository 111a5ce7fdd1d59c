// Package cmd assembles the companion CLI's cobra command tree: a
// companion root (root.go) nesting companiond's start/stop/status/logs
// subcommands — the same shape the teacher's groved command tree uses,
// generalized from one engine.Engine to one daemon.Daemon.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/companion/config"
	"github.com/grovetools/companion/internal/authgate"
	"github.com/grovetools/companion/internal/containerruntime"
	"github.com/grovetools/companion/internal/daemon"
	"github.com/grovetools/companion/internal/daemon/pidfile"
	"github.com/grovetools/companion/internal/gitruntime"
	"github.com/grovetools/companion/internal/imagepull"
	"github.com/grovetools/companion/internal/pluginbus"
	"github.com/grovetools/companion/internal/sessionstore"
	"github.com/grovetools/companion/logging"
	"github.com/grovetools/companion/pkg/paths"
)

// NewCompaniondCmd returns the companiond daemon command with its
// start/stop/status/logs subcommands.
func NewCompaniondCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companiond",
		Short: "Companion orchestration daemon",
		Long:  "Multiplexes AI coding CLI sessions to browser clients over WebSocket.",
	}

	cmd.AddCommand(newCompaniondStartCmd())
	cmd.AddCommand(newCompaniondStopCmd())
	cmd.AddCommand(newCompaniondStatusCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

func newCompaniondStartCmd() *cobra.Command {
	var httpAddr string

	c := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("companiond")
			pidPath := paths.PidFilePath()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to prepare state directories: %w", err)
			}

			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.WithError(err).Error("failed to release pidfile")
				}
			}()

			d, err := buildDaemon()
			if err != nil {
				return fmt.Errorf("failed to initialize daemon: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := d.Boot(ctx); err != nil {
				return fmt.Errorf("failed to boot daemon: %w", err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("received stop signal")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				d.Shutdown(shutdownCtx)

				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			logger.WithField("pid", os.Getpid()).WithField("addr", httpAddr).Info("starting companiond")
			if err := d.ListenAndServe(httpAddr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	c.Flags().StringVar(&httpAddr, "addr", fmt.Sprintf("127.0.0.1:%d", daemon.DefaultHTTPPort), "HTTP listen address")
	return c
}

func newCompaniondStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Println("companiond is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newCompaniondStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()
			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("running (pid %d)\n", pid)
			} else {
				fmt.Println("stopped")
				os.Exit(1)
			}
			return nil
		},
	}
}

// buildDaemon wires the concrete runtimes companiond needs into a
// daemon.Daemon.
func buildDaemon() (*daemon.Daemon, error) {
	gate, err := authgate.Open(paths.AuthFile())
	if err != nil {
		return nil, fmt.Errorf("opening authgate: %w", err)
	}

	containers, err := containerruntime.New()
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}

	resolver, err := config.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("loading environments.yaml: %w", err)
	}
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	if err := config.Watch(watchCtx, resolver); err != nil {
		cancelWatch()
		return nil, fmt.Errorf("watching environments.yaml: %w", err)
	}

	images := imagepull.New(containers)

	d := daemon.New(daemon.Deps{
		AuthGate:   gate,
		Sessions:   sessionstore.New(paths.SessionsFile()),
		Containers: containers,
		Git:        gitruntime.New(),
		Worktrees:  gitruntime.NewMappingRegistry(paths.WorktreeMappingsFile()),
		Images:     images,
		Plugins:    pluginbus.New(paths.PluginsFile()),
		Resolver:   resolver,
	})
	return d, nil
}
