// Package imagepull deduplicates concurrent pulls of the same image and
// fans out progress lines to every subscriber in order.
package imagepull

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/grovetools/companion/logging"
)

var log = logging.NewLogger("imagepull")

// Status is an image's pull state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPulling Status = "pulling"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Puller performs the actual image pull, returning a reader of
// newline-delimited progress lines. Implemented by containerruntime's
// Docker client in production, faked in tests.
type Puller interface {
	ImagePull(ctx context.Context, ref string) (io.ReadCloser, error)
}

type imageState struct {
	mu          sync.Mutex
	status      Status
	err         string
	subscribers map[chan string]struct{}
}

// Coordinator guarantees at most one active pull per image and fans
// out its progress lines to every subscriber in the order they arrive.
type Coordinator struct {
	puller Puller

	mu     sync.Mutex
	images map[string]*imageState
}

// New creates a Coordinator backed by puller.
func New(puller Puller) *Coordinator {
	return &Coordinator{puller: puller, images: make(map[string]*imageState)}
}

func (c *Coordinator) stateFor(image string) *imageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.images[image]
	if !ok {
		st = &imageState{status: StatusIdle, subscribers: make(map[chan string]struct{})}
		c.images[image] = st
	}
	return st
}

// IsReady reports whether image has finished pulling successfully.
func (c *Coordinator) IsReady(image string) bool {
	st := c.stateFor(image)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status == StatusReady
}

// State returns the current status and, if status is error, the error message.
func (c *Coordinator) State(image string) (Status, string) {
	st := c.stateFor(image)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.err
}

// EnsureImage starts a pull if idle or in error; no-ops if already
// pulling or ready. Ready is a monotonic terminal state.
func (c *Coordinator) EnsureImage(ctx context.Context, image string) {
	st := c.stateFor(image)

	st.mu.Lock()
	if st.status == StatusPulling || st.status == StatusReady {
		st.mu.Unlock()
		return
	}
	st.status = StatusPulling
	st.err = ""
	st.mu.Unlock()

	go c.runPull(ctx, image, st)
}

func (c *Coordinator) runPull(ctx context.Context, image string, st *imageState) {
	reader, err := c.puller.ImagePull(ctx, image)
	if err != nil {
		c.finish(st, StatusError, err.Error())
		return
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.broadcast(st, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.finish(st, StatusError, err.Error())
		return
	}
	c.finish(st, StatusReady, "")
}

func (c *Coordinator) broadcast(st *imageState, line string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for ch := range st.subscribers {
		select {
		case ch <- line:
		default:
			log.Warn("image pull subscriber dropped a progress line (slow consumer)")
		}
	}
}

func (c *Coordinator) finish(st *imageState, status Status, errMsg string) {
	st.mu.Lock()
	st.status = status
	st.err = errMsg
	st.mu.Unlock()
}

// WaitForReady blocks until image becomes ready or deadline elapses,
// returning whether it became ready.
func (c *Coordinator) WaitForReady(ctx context.Context, image string, deadline time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	unsubscribe := c.OnProgress(image, func(string) {})
	defer unsubscribe()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, _ := c.State(image)
		if status == StatusReady {
			return true
		}
		if status == StatusError {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// OnProgress subscribes cb to image's progress lines; lines produced
// before subscription are not replayed. Returns an unsubscribe func.
func (c *Coordinator) OnProgress(image string, cb func(line string)) func() {
	st := c.stateFor(image)
	ch := make(chan string, 64)

	st.mu.Lock()
	st.subscribers[ch] = struct{}{}
	st.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case line, ok := <-ch:
				if !ok {
					return
				}
				cb(line)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		st.mu.Lock()
		delete(st.subscribers, ch)
		st.mu.Unlock()
	}
}
