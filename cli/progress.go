package cli

import (
	"fmt"
	"sync"
	"time"
)

// StepProgress renders CreationPipeline's step-by-step status to the
// terminal for a CLI client consuming /sessions/create-stream, the
// same live-updating render loop the teacher's reporter uses for
// concurrent service startup, here keyed by pipeline step name instead
// of service name.
type StepProgress struct {
	mu       sync.Mutex
	statuses map[string]string
	order    []string
	start    time.Time
}

func NewStepProgress() *StepProgress {
	return &StepProgress{statuses: make(map[string]string), start: time.Now()}
}

// Update records step's latest status and re-renders.
func (p *StepProgress) Update(step, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, seen := p.statuses[step]; !seen {
		p.order = append(p.order, step)
	}
	p.statuses[step] = status
	p.render()
}

func (p *StepProgress) render() {
	fmt.Print("\033[H\033[2J")

	elapsed := time.Since(p.start).Round(time.Second)
	fmt.Printf("Creating session... [%s]\n\n", elapsed)

	for _, step := range p.order {
		symbol := "[.]"
		switch p.statuses[step] {
		case "done":
			symbol = "[*]"
		case "error":
			symbol = "[x]"
		case "in_progress":
			symbol = "[~]"
		}
		fmt.Printf("%s %s: %s\n", symbol, step, p.statuses[step])
	}
}

func (p *StepProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.start).Round(time.Millisecond)
	fmt.Printf("\nSession created in %s\n", elapsed)
}
