package backendadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"

	"github.com/grovetools/companion/logging"
)

var log = logging.NewLogger("backendadapter")

// StdioAdapter runs a backend CLI as a child process and speaks its
// newline-delimited JSON protocol over stdin/stdout directly: one line
// in, one event out. It is the adapter used for locally-run backends
// (no container, or a container entered via docker exec with stdio
// attached).
type StdioAdapter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Inbound
	closed chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

// NewStdioAdapter starts argv as a child process and begins streaming
// its stdout as Inbound events. stderr is logged, not surfaced as events.
func NewStdioAdapter(ctx context.Context, argv []string, dir string) (*StdioAdapter, error) {
	if len(argv) == 0 {
		return nil, errInvalidArgv
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	a := &StdioAdapter{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Inbound, 256),
		closed: make(chan struct{}),
	}

	go a.pumpStdout(stdout)
	go a.pumpStderr(stderr)
	go a.waitExit()

	return a, nil
}

func (a *StdioAdapter) pumpStdout(r io.Reader) {
	defer close(a.events)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, ok := parseInbound(line)
		if !ok {
			continue
		}
		a.events <- ev
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("backend stdout scan ended with error")
	}
}

func (a *StdioAdapter) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.WithField("stderr", scanner.Text()).Debug("backend stderr")
	}
}

func (a *StdioAdapter) waitExit() {
	_ = a.cmd.Wait()
	a.once.Do(func() { close(a.closed) })
}

func parseInbound(line []byte) (Inbound, bool) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		log.WithError(err).Warn("dropping malformed backend line")
		return Inbound{}, false
	}
	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Inbound{Kind: InboundKind(envelope.Type), Raw: raw}, true
}

// Send writes out as a single newline-terminated JSON line to the
// backend's stdin. Concurrent callers are serialized so lines are
// never interleaved.
func (a *StdioAdapter) Send(ctx context.Context, out Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err = a.stdin.Write(data)
	return err
}

func (a *StdioAdapter) Events() <-chan Inbound  { return a.events }
func (a *StdioAdapter) Closed() <-chan struct{} { return a.closed }

// Close terminates the backend process. It is safe to call more than once.
func (a *StdioAdapter) Close() error {
	_ = a.stdin.Close()
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	return nil
}

type invalidArgvError struct{}

func (invalidArgvError) Error() string { return "backendadapter: empty argv" }

var errInvalidArgv = invalidArgvError{}
