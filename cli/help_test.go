package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestVisibleFlagsFormatsShorthandAndLongOnly(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().BoolP("follow", "f", false, "follow the log")
	cmd.Flags().String("addr", "", "listen address")

	flags := visibleFlags(cmd)
	assert.Contains(t, flags, "-f/--follow")
	assert.Contains(t, flags, "--addr")
}

func TestVisibleFlagsSkipsHidden(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Bool("secret", false, "internal only")
	_ = cmd.Flags().MarkHidden("secret")

	assert.Empty(t, visibleFlags(cmd))
}
