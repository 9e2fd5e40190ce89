package screenrec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const helperProcessEnv = "SCREENREC_WANT_HELPER_PROCESS"

// TestHelperProcess isn't a real test. It stands in for the capture tool when the
// controller tests re-execute the test binary
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperProcessEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "helper: expected mode and output path")
		os.Exit(2)
	}

	mode, output := args[1], args[2]

	switch mode {
	case "graceful":
		fmt.Fprintln(os.Stderr, "Press [q] to stop, [?] for help")
		waitForQuit()
		_ = os.WriteFile(output, make([]byte, 4096), 0o644)
		os.Exit(0)

	case "tiny":
		waitForQuit()
		_ = os.WriteFile(output, make([]byte, 10), 0o644)
		fmt.Fprintln(os.Stderr, "Could not find video device with name [desktop]")
		os.Exit(1)

	case "stubborn":
		time.Sleep(time.Minute)
		os.Exit(0)

	case "finite":
		_ = os.WriteFile(output, make([]byte, 4096), 0o644)
		os.Exit(0)
	}

	os.Exit(0)
}

func waitForQuit() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			os.Exit(3)
		}
		if n == 1 && buf[0] == 'q' {
			return
		}
	}
}

func helperCommand(t *testing.T, mode string) ([]string, string) {
	t.Helper()
	t.Setenv(helperProcessEnv, "1")

	output := filepath.Join(t.TempDir(), "recording_20240309_140507.mp4")
	return []string{os.Args[0], "-test.run=^TestHelperProcess$", "--", mode, output}, output
}

func newTestController(stopTimeout time.Duration) *Controller {
	return NewController(zap.NewNop().Sugar(), ControllerOptions{
		StopTimeout:  stopTimeout,
		TickInterval: 10 * time.Millisecond,
	})
}

func TestRequestStopWhileIdle(t *testing.T) {
	c := newTestController(time.Second)

	assert.ErrorIs(t, c.RequestStop(), ErrNotRecording)
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestGracefulStopCompletes(t *testing.T) {
	c := newTestController(5 * time.Second)
	argv, output := helperCommand(t, "graceful")

	require.NoError(t, c.Start(argv, output))

	status := c.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, output, status.OutputPath)

	assert.ErrorIs(t, c.Start(argv, output), ErrAlreadyRecording)

	require.NoError(t, c.RequestStop())

	status = c.Status()
	assert.Equal(t, StateCompleted, status.State)
	assert.EqualValues(t, 4096, status.OutputSize)
	assert.NoError(t, status.Err)

	assert.ErrorIs(t, c.RequestStop(), ErrNotRecording)

	require.NoError(t, c.Acknowledge())
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestStopWithTinyOutputFails(t *testing.T) {
	c := newTestController(5 * time.Second)
	argv, output := helperCommand(t, "tiny")

	require.NoError(t, c.Start(argv, output))

	err := c.RequestStop()

	var incomplete *RecordingIncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.EqualValues(t, 10, incomplete.Size)
	assert.Error(t, incomplete.ExitErr)
	assert.Contains(t, incomplete.Diagnostic(), "Could not find video device")

	status := c.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, err, status.Err)
}

func TestStopKillsUnresponsiveProcess(t *testing.T) {
	c := newTestController(200 * time.Millisecond)
	argv, output := helperCommand(t, "stubborn")

	require.NoError(t, c.Start(argv, output))

	started := time.Now()
	err := c.RequestStop()

	assert.Less(t, time.Since(started), 30*time.Second)

	var incomplete *RecordingIncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.EqualValues(t, -1, incomplete.Size)
	assert.Equal(t, StateFailed, c.Status().State)
}

func TestProcessExitingOnItsOwn(t *testing.T) {
	c := newTestController(time.Second)
	argv, output := helperCommand(t, "finite")

	require.NoError(t, c.Start(argv, output))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, StateCompleted, c.Status().State)
	assert.ErrorIs(t, c.RequestStop(), ErrNotRecording)
}

func TestStartAfterFinishDiscardsPreviousResult(t *testing.T) {
	c := newTestController(5 * time.Second)
	argv, output := helperCommand(t, "finite")

	require.NoError(t, c.Start(argv, output))
	<-c.Done()
	require.Equal(t, StateCompleted, c.Status().State)

	argv, output = helperCommand(t, "graceful")
	require.NoError(t, c.Start(argv, output))
	assert.Equal(t, StateRunning, c.Status().State)
	assert.Equal(t, output, c.Status().OutputPath)

	assert.ErrorIs(t, c.Acknowledge(), ErrAlreadyRecording)
	require.NoError(t, c.RequestStop())
}

func TestTicksAreBroadcast(t *testing.T) {
	c := newTestController(5 * time.Second)
	ticks := c.SubscribeToTicks()
	argv, output := helperCommand(t, "graceful")

	require.NoError(t, c.Start(argv, output))

	select {
	case elapsed := <-ticks:
		assert.Greater(t, elapsed, time.Duration(0))
	case <-time.After(10 * time.Second):
		t.Fatal("no elapsed tick received")
	}

	require.NoError(t, c.RequestStop())

	c.Release()
	_, open := <-ticks
	assert.False(t, open)
}

func TestNoTicksAfterRecordingEnds(t *testing.T) {
	c := newTestController(5 * time.Second)
	ticks := c.SubscribeToTicks()
	argv, output := helperCommand(t, "graceful")

	require.NoError(t, c.Start(argv, output))

	select {
	case <-ticks:
	case <-time.After(10 * time.Second):
		t.Fatal("no elapsed tick received")
	}

	require.NoError(t, c.RequestStop())
	<-c.Done()

	// a tick sent before the process exited may still be buffered
	select {
	case <-ticks:
	default:
	}

	select {
	case elapsed := <-ticks:
		t.Fatalf("tick %s arrived after the recording ended", elapsed)
	case <-time.After(100 * time.Millisecond):
	}

	c.Release()
	_, open := <-ticks
	assert.False(t, open)
}

func TestReleaseDropsPendingTicks(t *testing.T) {
	c := newTestController(time.Second)
	ticks := c.SubscribeToTicks()
	ticks <- time.Minute

	c.Release()

	_, open := <-ticks
	assert.False(t, open)
}

func collectStates(t *testing.T, states <-chan SessionState, n int) []SessionState {
	t.Helper()

	var got []SessionState
	for len(got) < n {
		select {
		case state := <-states:
			got = append(got, state)
		case <-time.After(10 * time.Second):
			t.Fatalf("got states %v, expected %d", got, n)
		}
	}

	return got
}

func TestStateChangesArePublishedInOrder(t *testing.T) {
	c := newTestController(5 * time.Second)
	states := c.SubscribeToStateChanges()
	argv, output := helperCommand(t, "graceful")

	require.NoError(t, c.Start(argv, output))
	require.NoError(t, c.RequestStop())

	assert.Equal(t, []SessionState{StateRunning, StateStopping, StateCompleted}, collectStates(t, states, 3))

	c.Release()
	_, open := <-states
	assert.False(t, open)
}

func TestStateChangesWhenProcessExitsOnItsOwn(t *testing.T) {
	c := newTestController(5 * time.Second)
	states := c.SubscribeToStateChanges()
	argv, output := helperCommand(t, "finite")

	require.NoError(t, c.Start(argv, output))

	assert.Equal(t, []SessionState{StateRunning, StateCompleted}, collectStates(t, states, 2))
	assert.ErrorIs(t, c.RequestStop(), ErrNotRecording)
}

func TestStartMissingTool(t *testing.T) {
	c := newTestController(time.Second)

	err := c.Start([]string{"screenrec-no-such-capture-tool"}, filepath.Join(t.TempDir(), "out.mp4"))

	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, StateIdle, c.Status().State)
}

func TestStartEmptyCommand(t *testing.T) {
	c := newTestController(time.Second)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(c.Start(nil, "out.mp4"), &cfgErr))
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "SessionState(42)", SessionState(42).String())
}

func TestTailBufferKeepsMostRecentBytes(t *testing.T) {
	b := newTailBuffer(8)

	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", b.String())

	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
}
