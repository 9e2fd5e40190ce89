package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stalexteam/screenrec/pkg/screenrec"
)

func TestParseArea(t *testing.T) {
	area, err := parseArea("10, 20,640,480")
	require.NoError(t, err)
	assert.Equal(t, screenrec.Rect{X: 10, Y: 20, Width: 640, Height: 480}, area)

	for _, bad := range []string{"", "1,2,3", "1,2,three,4"} {
		_, err := parseArea(bad)

		var cfgErr *screenrec.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), bad)
	}
}

func TestCommandSubcommandPrintsCommand(t *testing.T) {
	var out bytes.Buffer

	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"command", "--mode", "window", "--window", "Untitled - Notepad", "--fps", "24", "--quality", "ultra", "-t", "90s"})

	require.NoError(t, root.Execute())

	line := out.String()
	assert.Contains(t, line, "-framerate 24")
	assert.Contains(t, line, `"title=Untitled - Notepad"`)
	assert.Contains(t, line, "-preset slow -crf 18")
	assert.Contains(t, line, "-t 90")
	assert.Contains(t, line, "recording_")
}

func TestCommandSubcommandRejectsBadSelection(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"command", "--mode", "window"})

	err := root.Execute()

	var cfgErr *screenrec.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestFailingCommandReportsError(t *testing.T) {
	var out, errOut bytes.Buffer

	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"command", "--mode", "window"})

	require.Error(t, root.Execute())

	assert.Contains(t, errOut.String(), "Error: invalid window: no window selected")
	assert.NotContains(t, errOut.String(), "Usage:")
}

func TestWaitForEnterClosesOnNewline(t *testing.T) {
	enter := waitForEnter(strings.NewReader("\n"))

	select {
	case <-enter:
	case <-time.After(time.Second):
		t.Fatal("enter channel was not closed after a newline")
	}
}

func TestWaitForEnterIgnoresClosedInput(t *testing.T) {
	for name, input := range map[string]io.Reader{
		"empty":               strings.NewReader(""),
		"no trailing newline": strings.NewReader("partial"),
	} {
		enter := waitForEnter(input)

		select {
		case <-enter:
			t.Fatalf("%s: enter channel closed without a newline", name)
		case <-time.After(50 * time.Millisecond):
		}
	}
}
