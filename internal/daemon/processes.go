package daemon

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/grovetools/companion/errors"
)

const processExecTimeout = 5 * time.Second

// SystemProcess is one row of GET /sessions/:id/processes/system's
// listing — the fields "ps -eo pid,ppid,pcpu,pmem,etime,args" reports
// inside a session's container, parsed for the browser's process panel.
type SystemProcess struct {
	PID     int     `json:"pid"`
	PPID    int     `json:"ppid"`
	CPU     float64 `json:"cpuPercent"`
	Mem     float64 `json:"memPercent"`
	Elapsed string  `json:"elapsed"`
	Command string  `json:"command"`
}

// ListSystemProcesses runs ps inside sessionID's container and parses
// its output. It errors if the session isn't containerized — a
// non-containerized session's OS processes aren't isolated from the
// daemon's own and aren't safe to enumerate or kill this way.
func (d *Daemon) ListSystemProcesses(ctx context.Context, sessionID string) ([]SystemProcess, error) {
	containerID, err := d.containerIDFor(sessionID)
	if err != nil {
		return nil, err
	}

	out, err := d.Containers.Exec(ctx, containerID, []string{"ps", "-eo", "pid,ppid,pcpu,pmem,etime,args", "--no-headers"}, processExecTimeout)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "listing processes")
	}
	return parsePsOutput(out), nil
}

// KillProcess sends SIGTERM to one PID inside sessionID's container.
// taskID is the PID as a string; the HTTP layer's naming follows the
// browser's own task-tracking vocabulary even though this kills an OS
// process rather than a tracked tool-use task.
func (d *Daemon) KillProcess(ctx context.Context, sessionID, taskID string) error {
	containerID, err := d.containerIDFor(sessionID)
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(taskID)
	if err != nil {
		return errors.InvalidInput("taskId", "must be a numeric pid")
	}
	_, err = d.Containers.Exec(ctx, containerID, []string{"kill", "-TERM", strconv.Itoa(pid)}, processExecTimeout)
	return err
}

// KillAllProcesses terminates every process in sessionID's container
// except pid 1 (the exec session's own init), leaving the container
// itself running.
func (d *Daemon) KillAllProcesses(ctx context.Context, sessionID string) error {
	containerID, err := d.containerIDFor(sessionID)
	if err != nil {
		return err
	}
	_, err = d.Containers.Exec(ctx, containerID, []string{"sh", "-c", "kill -TERM $(ps -eo pid --no-headers | grep -v '^ *1$')"}, processExecTimeout)
	return err
}

func (d *Daemon) containerIDFor(sessionID string) (string, error) {
	sess := d.Sessions.Get(sessionID)
	if sess == nil {
		return "", errors.NotFound("session", sessionID)
	}
	if sess.ContainerID == nil {
		return "", errors.PreconditionFailed("session is not containerized")
	}
	return *sess.ContainerID, nil
}

func parsePsOutput(out string) []SystemProcess {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	procs := make([]SystemProcess, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, _ := strconv.Atoi(fields[0])
		ppid, _ := strconv.Atoi(fields[1])
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		mem, _ := strconv.ParseFloat(fields[3], 64)
		command := strings.Join(fields[5:], " ")
		procs = append(procs, SystemProcess{
			PID: pid, PPID: ppid, CPU: cpu, Mem: mem, Elapsed: fields[4], Command: command,
		})
	}
	return procs
}
