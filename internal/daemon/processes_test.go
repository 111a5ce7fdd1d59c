package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePsOutputParsesFields(t *testing.T) {
	out := "  1  0  0.1  0.2 00:05 /sbin/init\n" +
		"42  1 12.5  3.4 01:10:30 node server.js --port 3000\n"

	procs := parsePsOutput(out)
	assert.Len(t, procs, 2)

	assert.Equal(t, SystemProcess{PID: 1, PPID: 0, CPU: 0.1, Mem: 0.2, Elapsed: "00:05", Command: "/sbin/init"}, procs[0])
	assert.Equal(t, 42, procs[1].PID)
	assert.Equal(t, "node server.js --port 3000", procs[1].Command)
}

func TestParsePsOutputSkipsBlankAndShortLines(t *testing.T) {
	out := "\n   \n1 0 0.0 0.0\n1 0 0.0 0.0 00:01 init\n"
	procs := parsePsOutput(out)
	assert.Len(t, procs, 1)
	assert.Equal(t, "init", procs[0].Command)
}

func TestParsePsOutputEmptyInput(t *testing.T) {
	procs := parsePsOutput("")
	assert.Len(t, procs, 0)
}
