package screenrec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// SessionState is where a recording is in its lifecycle
type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
	StateStopping
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

const (
	// ffmpeg finalizes the container when it reads this from stdin
	gracefulQuitSignal = "q"

	defaultStopTimeout    = 5 * time.Second
	defaultMinOutputBytes = 1000
	defaultTailLines      = 30
	defaultTickInterval   = time.Second

	// how much of the tool's output we keep around for error reports
	outputTailBytes = 64 * 1024
)

// SessionStatus is a read-only snapshot of the current recording
type SessionStatus struct {
	State      SessionState
	OutputPath string
	StartTime  time.Time
	Elapsed    time.Duration
	OutputSize int64 // -1 if the file doesn't exist (yet)
	Err        error
}

// ControllerOptions tunes the stop/validation behavior of a Controller
type ControllerOptions struct {
	StopTimeout    time.Duration
	MinOutputBytes int64
	TailLines      int
	TickInterval   time.Duration
}

type recordingSession struct {
	argv       []string
	outputPath string
	startTime  time.Time
	endTime    time.Time

	state SessionState
	size  int64
	err   error

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *tailBuffer
	done   chan struct{}
}

// Controller owns the single recording slot: it spawns the capture tool, reports elapsed
// time and stops the tool gracefully before resorting to a kill
type Controller struct {
	logger *zap.SugaredLogger

	stopTimeout    time.Duration
	minOutputBytes int64
	tailLines      int
	tickInterval   time.Duration

	mu      sync.Mutex // protects session and its state fields
	session *recordingSession

	tickConsumers  []chan time.Duration
	stateConsumers []chan SessionState
	consumersMutex sync.RWMutex // also held while a session's done channel is closed
}

// NewController creates a Controller
func NewController(logger *zap.SugaredLogger, opts ControllerOptions) *Controller {
	logger = logger.Named("session")

	c := &Controller{
		logger:         logger,
		stopTimeout:    opts.StopTimeout,
		minOutputBytes: opts.MinOutputBytes,
		tailLines:      opts.TailLines,
		tickInterval:   opts.TickInterval,
	}

	if c.stopTimeout <= 0 {
		c.stopTimeout = defaultStopTimeout
	}
	if c.minOutputBytes <= 0 {
		c.minOutputBytes = defaultMinOutputBytes
	}
	if c.tailLines <= 0 {
		c.tailLines = defaultTailLines
	}
	if c.tickInterval <= 0 {
		c.tickInterval = defaultTickInterval
	}

	logger.Debugw("Created session controller instance",
		"stopTimeout", c.stopTimeout,
		"minOutputBytes", c.minOutputBytes)

	return c
}

// Reconfigure changes stop and validation settings. A running recording picks them up when it stops
func (c *Controller) Reconfigure(opts ControllerOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.StopTimeout > 0 {
		c.stopTimeout = opts.StopTimeout
	}
	if opts.MinOutputBytes > 0 {
		c.minOutputBytes = opts.MinOutputBytes
	}

	c.logger.Debugw("Reconfigured session controller", "stopTimeout", c.stopTimeout, "minOutputBytes", c.minOutputBytes)
}

// Start spawns the capture tool. argv[0] is the executable. Starting over a finished
// session that nobody acknowledged discards its result
func (c *Controller) Start(argv []string, outputPath string) error {
	if len(argv) == 0 {
		return configError("command", "empty argument list")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		switch c.session.state {
		case StateRunning, StateStopping:
			c.logger.Warnw("Refusing to start a second recording", "current", c.session.outputPath)
			return ErrAlreadyRecording
		}

		c.logger.Debugw("Discarding unacknowledged session result", "state", c.session.state, "output", c.session.outputPath)
		c.session = nil
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	util.HideConsole(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: open stdin: %v", ErrProcessSpawn, err)
	}

	output := newTailBuffer(outputTailBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	c.logger.Debugw("Spawning capture process", "command", CommandLine(argv))

	if err := cmd.Start(); err != nil {
		stdin.Close()

		err = classifyExecError(argv[0], err)
		c.logger.Warnw("Failed to start capture process", "error", err)

		if errors.Is(err, ErrToolNotFound) {
			return fmt.Errorf("start recording: %w", err)
		}
		return fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}

	s := &recordingSession{
		argv:       argv,
		outputPath: outputPath,
		startTime:  time.Now(),
		state:      StateRunning,
		size:       -1,
		cmd:        cmd,
		stdin:      stdin,
		output:     output,
		done:       make(chan struct{}),
	}
	c.session = s
	c.publishState(StateRunning)

	c.logger.Infow("Recording started", "pid", cmd.Process.Pid, "output", outputPath)

	go c.waitForExit(s)
	go c.reportElapsed(s)

	return nil
}

// RequestStop asks the capture tool to finalize and quit, kills it if it doesn't within the
// stop timeout, and returns the outcome (nil, or a *RecordingIncompleteError)
func (c *Controller) RequestStop() error {
	c.mu.Lock()
	s := c.session
	if s == nil || s.state != StateRunning {
		c.mu.Unlock()
		return ErrNotRecording
	}
	s.state = StateStopping
	c.publishState(StateStopping)
	stopTimeout := c.stopTimeout
	c.mu.Unlock()

	c.logger.Debugw("Sending graceful quit signal", "pid", s.cmd.Process.Pid)

	if _, err := io.WriteString(s.stdin, gracefulQuitSignal); err != nil {
		c.logger.Warnw("Failed to send graceful quit signal", "error", err)
	}
	if err := s.stdin.Close(); err != nil {
		c.logger.Debugw("Failed to close capture process stdin", "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		c.logger.Warnw("Capture process ignored quit signal, terminating", "timeout", stopTimeout)

		if err := s.cmd.Process.Kill(); err != nil {
			c.logger.Warnw("Failed to kill capture process", "error", err)
		}
		<-s.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return s.err
}

// Done is closed once the current recording's process has exited and its result is known
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	return c.session.done
}

// Wait blocks until the current recording finishes on its own (or ctx expires) and returns its outcome
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	return c.session.err
}

// Acknowledge clears a finished session so the controller is Idle again
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	switch c.session.state {
	case StateRunning, StateStopping:
		return ErrAlreadyRecording
	}

	c.logger.Debugw("Session acknowledged", "state", c.session.state)
	c.session = nil

	return nil
}

// Status returns a snapshot of the current session
func (c *Controller) Status() SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return SessionStatus{State: StateIdle, OutputSize: -1}
	}

	status := SessionStatus{
		State:      s.state,
		OutputPath: s.outputPath,
		StartTime:  s.startTime,
		OutputSize: s.size,
		Err:        s.err,
	}

	end := s.endTime
	if end.IsZero() {
		end = time.Now()
		status.OutputSize = util.FileSize(s.outputPath)
	}
	status.Elapsed = end.Sub(s.startTime)

	return status
}

// SubscribeToTicks returns a channel that receives the elapsed recording time once per tick.
// Slow consumers miss ticks instead of blocking the recorder
func (c *Controller) SubscribeToTicks() chan time.Duration {
	ch := make(chan time.Duration, 1)

	c.consumersMutex.Lock()
	c.tickConsumers = append(c.tickConsumers, ch)
	c.consumersMutex.Unlock()

	return ch
}

// SubscribeToStateChanges returns a channel that receives every state a recording enters:
// running, stopping and then completed or failed. A consumer that falls behind misses states
func (c *Controller) SubscribeToStateChanges() chan SessionState {
	ch := make(chan SessionState, 8)

	c.consumersMutex.Lock()
	c.stateConsumers = append(c.stateConsumers, ch)
	c.consumersMutex.Unlock()

	return ch
}

// Release stops any running recording and closes all tick and state channels.
// Ticks nobody picked up yet are dropped so a closed channel never yields a stale elapsed time
func (c *Controller) Release() {
	if err := c.RequestStop(); err != nil && !errors.Is(err, ErrNotRecording) {
		c.logger.Warnw("Recording stopped during release did not complete", "error", err)
	}

	c.consumersMutex.Lock()
	defer c.consumersMutex.Unlock()

	for _, ch := range c.tickConsumers {
		drainTicks(ch)
		close(ch)
	}
	c.tickConsumers = nil

	for _, ch := range c.stateConsumers {
		close(ch)
	}
	c.stateConsumers = nil

	c.logger.Debug("Released session controller")
}

func (c *Controller) waitForExit(s *recordingSession) {
	waitErr := s.cmd.Wait()
	size := util.FileSize(s.outputPath)

	c.mu.Lock()
	s.endTime = time.Now()
	s.size = size

	if s.size > c.minOutputBytes {
		s.state = StateCompleted
	} else {
		s.state = StateFailed
		s.err = &RecordingIncompleteError{
			OutputPath: s.outputPath,
			Size:       size,
			ExitErr:    waitErr,
			Tail:       util.LastLines(s.output.String(), c.tailLines),
		}
	}

	state, elapsed := s.state, s.endTime.Sub(s.startTime)
	c.publishState(state)
	c.mu.Unlock()

	if state == StateCompleted {
		c.logger.Infow("Recording completed",
			"output", s.outputPath,
			"size", size,
			"elapsed", util.FormatElapsed(elapsed),
			"exitError", waitErr)
	} else {
		c.logger.Warnw("Recording failed",
			"output", s.outputPath,
			"size", size,
			"exitError", waitErr,
			"tail", s.output.String())
	}

	// reportElapsed checks done under the same lock, so no tick goes out after this
	c.consumersMutex.Lock()
	close(s.done)
	c.consumersMutex.Unlock()
}

func (c *Controller) reportElapsed(s *recordingSession) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case now := <-ticker.C:
			elapsed := now.Sub(s.startTime)

			c.consumersMutex.RLock()
			select {
			case <-s.done:
				c.consumersMutex.RUnlock()
				return
			default:
			}

			for _, ch := range c.tickConsumers {
				select {
				case ch <- elapsed:
				default:
					// consumer is behind, skip
				}
			}
			c.consumersMutex.RUnlock()
		}
	}
}

// publishState is called with c.mu held so consumers see states in order
func (c *Controller) publishState(state SessionState) {
	c.consumersMutex.RLock()
	defer c.consumersMutex.RUnlock()

	for _, ch := range c.stateConsumers {
		select {
		case ch <- state:
		default:
			c.logger.Debugw("State consumer is behind, dropping state", "state", state)
		}
	}
}

func drainTicks(ch chan time.Duration) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
