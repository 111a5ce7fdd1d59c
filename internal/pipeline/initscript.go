package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/companion/errors"
	"github.com/grovetools/companion/internal/containerruntime"
)

const (
	initScriptTimeout = 120 * time.Second
	truncateHeadChars = 500
	truncateTailChars = 1500
)

func (p *Pipeline) stepRunInitScript(ctx context.Context, st *pipelineState, r ProgressReporter) error {
	if st.profile.InitScript == "" || st.containerID == "" {
		return nil
	}

	r.Progress(StepRunningInitScript, "running_init_script", StatusInProgress, "")

	result, err := p.Container.ExecStreaming(ctx, st.containerID, []string{"sh", "-c", st.profile.InitScript}, containerruntime.ExecStreamingOptions{
		Timeout: initScriptTimeout,
		OnLine: func(line string) {
			r.Progress(StepRunningInitScript, "running_init_script", StatusInProgress, line)
		},
	})
	if err != nil {
		return errors.FatalStep("running_init_script", err)
	}
	if result.ExitCode != 0 {
		detail := truncateMiddle(result.CombinedOutput, truncateHeadChars, truncateTailChars)
		return errors.FatalStep("running_init_script", fmt.Errorf("init script exited with code %d:\n%s", result.ExitCode, detail))
	}
	r.Progress(StepRunningInitScript, "running_init_script", StatusDone, "")
	return nil
}

// truncateMiddle keeps the first head and last tail characters of s,
// collapsing everything between them into an elision marker. Used so a
// fatal init-script error message stays readable even when the script
// produced a huge amount of output.
func truncateMiddle(s string, head, tail int) string {
	runes := []rune(s)
	if len(runes) <= head+tail {
		return s
	}

	omitted := len(runes) - head - tail
	return string(runes[:head]) + fmt.Sprintf("\n... [%d chars omitted] ...\n", omitted) + string(runes[len(runes)-tail:])
}
