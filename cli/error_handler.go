package cli

import (
	"fmt"
	"os"

	companionerrors "github.com/grovetools/companion/errors"
)

// ErrorHandler renders a CompanionError as a user-facing CLI message,
// keyed off its Kind the way the teacher's handler keys off ErrCode.
type ErrorHandler struct {
	Verbose bool
}

func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose}
}

// Handle prints err and returns it unchanged, for RunE chaining.
func (h *ErrorHandler) Handle(err error) error {
	ce := companionerrors.AsCompanionError(err)

	switch ce.Kind {
	case companionerrors.KindNotFound:
		fmt.Fprintf(os.Stderr, "not found: %s\n", ce.Message)
	case companionerrors.KindBackendUnavailable:
		fmt.Fprintf(os.Stderr, "backend unavailable: %s\nIs the companion daemon running? Try 'companiond start'.\n", ce.Message)
	case companionerrors.KindPreconditionFailed:
		fmt.Fprintf(os.Stderr, "precondition failed: %s\n", ce.Message)
	case companionerrors.KindTimeout:
		fmt.Fprintf(os.Stderr, "timed out: %s\n", ce.Message)
	default:
		fmt.Fprintf(os.Stderr, "error: %s\n", ce.Message)
	}

	if h.Verbose {
		fmt.Fprintf(os.Stderr, "\ndetails:\n%s\n", ce.ToJSON())
	}
	return err
}
