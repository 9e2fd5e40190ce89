// Package screenrec records the screen by driving ffmpeg from a tray icon,
// with monitor, window and audio device discovery on top
package screenrec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

const (
	startupCheckTimeout = 5 * time.Second
	diagnosticsTimeout  = 2 * time.Minute

	// how many tool output lines make it into a failure notification
	notificationTailLines = 3
)

// Recorder is the main entity managing access to all sub-components
type Recorder struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	runner   CommandRunner

	controller *Controller

	// replaced on config reload
	enumerator *DeviceEnumerator
	probe      *AudioProbe
	toolsMutex sync.RWMutex

	devices      DeviceSnapshot
	devicesMutex sync.RWMutex

	stopChannel chan bool
	version     string
	verbose     bool
	stopping    sync.Once

	stateConsumers []chan bool
	consumersMutex sync.RWMutex
}

// DeviceSnapshot is what the last enumeration found
type DeviceSnapshot struct {
	Monitors     []MonitorInfo
	AudioDevices []AudioDevice
	Windows      []WindowInfo
}

// NewRecorder creates a Recorder instance
func NewRecorder(logger *zap.SugaredLogger, verbose bool) (*Recorder, error) {
	logger = logger.Named("screenrec")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	r := &Recorder{
		logger:         logger,
		notifier:       notifier,
		config:         config,
		runner:         NewExecRunner(),
		stopChannel:    make(chan bool, 1),
		verbose:        verbose,
		stateConsumers: []chan bool{},
	}

	logger.Debug("Created recorder instance")

	return r, nil
}

// Initialize loads the config, makes sure the capture tool is there and runs the tray until quit
func (r *Recorder) Initialize() error {
	r.logger.Debug("Initializing")

	if err := r.config.Load(); err != nil {
		r.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	r.controller = NewController(r.logger, r.config.ControllerOptions())
	r.applyToolSettings()

	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	defer cancel()

	version, err := r.tools().CheckTool(ctx, r.config.Tools.FFmpegPath)
	if err != nil {
		r.logger.Errorw("Capture tool unavailable", "path", r.config.Tools.FFmpegPath, "error", err)
		r.notifier.Notify("FFmpeg not found!",
			fmt.Sprintf("Install FFmpeg and add it to PATH, or set %s in %s.", configKey_FFmpegPath, userConfigFilename))
		return fmt.Errorf("check capture tool: %w", err)
	}

	r.logger.Infow("Capture tool found", "version", version)

	r.setupInterruptHandler()
	r.initializeTray(r.run)

	return nil
}

// SetVersion causes the recorder to add a version string to its tray menu if called before Initialize
func (r *Recorder) SetVersion(version string) {
	r.version = version
}

// Verbose returns a boolean indicating whether the recorder is running in verbose mode
func (r *Recorder) Verbose() bool {
	return r.verbose
}

// SubscribeToStateChanges returns a channel that fires whenever the recording, the devices or the selection change
func (r *Recorder) SubscribeToStateChanges() chan bool {
	c := make(chan bool, 1)

	r.consumersMutex.Lock()
	r.stateConsumers = append(r.stateConsumers, c)
	r.consumersMutex.Unlock()

	return c
}

// Devices returns the last enumeration results
func (r *Recorder) Devices() DeviceSnapshot {
	r.devicesMutex.RLock()
	defer r.devicesMutex.RUnlock()

	return r.devices
}

// RefreshDevices enumerates monitors, audio devices and windows again
func (r *Recorder) RefreshDevices(ctx context.Context) {
	r.logger.Debug("Refreshing devices")

	enumerator := r.tools()

	snapshot := DeviceSnapshot{
		Monitors:     enumerator.ListMonitors(ctx),
		AudioDevices: enumerator.ListAudioDevices(ctx),
		Windows:      enumerator.ListWindowDetails(ctx),
	}

	r.devicesMutex.Lock()
	r.devices = snapshot
	r.devicesMutex.Unlock()

	if len(snapshot.AudioDevices) == 0 {
		r.notifier.Notify("No audio devices found",
			"Recordings will have no sound. Enable Stereo Mix or a microphone in the Windows sound settings.")
	}

	r.logger.Infow("Devices refreshed",
		"monitors", len(snapshot.Monitors),
		"audioDevices", len(snapshot.AudioDevices),
		"windows", len(snapshot.Windows))

	r.onStateChanged()
}

// SelectCapture changes what the next recording captures
func (r *Recorder) SelectCapture(update func(*CaptureSelection)) {
	if err := r.config.UpdateSelection(update); err != nil {
		r.logger.Warnw("Failed to remember capture selection", "error", err)
	}

	r.onStateChanged()
}

// StartRecording builds the command from the current selection and launches it
func (r *Recorder) StartRecording() error {
	spec := r.config.CaptureSpec(r.Devices().Monitors)

	argv, outputPath, err := r.config.CommandBuilder().Build(spec, r.config.OutputDir, time.Now)
	if err != nil {
		r.logger.Warnw("Failed to build recording command", "error", err)
		r.notifier.Notify("Can't start recording", err.Error())
		return fmt.Errorf("build recording command: %w", err)
	}

	if err := util.EnsureDirExists(filepath.Dir(outputPath)); err != nil {
		r.logger.Warnw("Failed to create output directory", "error", err)
		r.notifier.Notify("Can't start recording", err.Error())
		return fmt.Errorf("prepare output directory: %w", err)
	}

	if err := r.controller.Start(argv, outputPath); err != nil {
		r.logger.Warnw("Failed to start recording", "error", err)
		r.notifier.Notify("Can't start recording", err.Error())
		return fmt.Errorf("start recording: %w", err)
	}

	go r.awaitResult(outputPath, len(spec.Audio.Sources()) > 0, r.controller.Done())

	r.onStateChanged()

	return nil
}

// StopRecording asks the running recording to finish. The result is reported by awaitResult
func (r *Recorder) StopRecording() {
	if err := r.controller.RequestStop(); err != nil {
		r.logger.Debugw("Stop request finished with error", "error", err)
	}
}

// RunDiagnostics runs the diagnostic checks and reports a summary as a notification
func (r *Recorder) RunDiagnostics(ctx context.Context) *DiagnosticReport {
	ctx, cancel := context.WithTimeout(ctx, diagnosticsTimeout)
	defer cancel()

	diagnostician := NewDiagnostician(r.logger, r.tools(), r.runner, r.config.Tools.FFmpegPath, r.config.Tools.FFprobePath, r.config.MinOutputBytes)

	// one capture at a time is enough for slow machines
	recording := r.controller.Status().State == StateRunning

	report := diagnostician.Run(ctx, DiagnoseOptions{
		OutputDir:     r.config.OutputDir,
		SkipRecording: recording,
	})

	summary := report.Summary()
	r.logger.Infow("Diagnostics summary", "healthy", report.Healthy(), "summary", summary)

	title := "Diagnostics passed"
	if !report.Healthy() && !recording {
		title = "Diagnostics found problems"
	}
	r.notifier.Notify(title, strings.Join(summary, "\n"))

	return report
}

func (r *Recorder) awaitResult(outputPath string, expectAudio bool, done <-chan struct{}) {
	<-done

	status := r.controller.Status()
	if status.OutputPath != outputPath {
		// a newer recording already took over
		return
	}

	if status.Err != nil {
		message := status.Err.Error()
		var incomplete *RecordingIncompleteError
		if errors.As(status.Err, &incomplete) && len(incomplete.Tail) > 0 {
			message = strings.Join(util.LastLines(incomplete.Diagnostic(), notificationTailLines), "\n")
		}

		r.notifier.Notify("Recording failed", message)
		r.onStateChanged()
		return
	}

	r.notifier.Notify("Recording saved",
		fmt.Sprintf("%s (%s, %s)", filepath.Base(outputPath), util.FormatSize(status.OutputSize), util.FormatElapsed(status.Elapsed)))

	if expectAudio {
		ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
		defer cancel()

		r.toolsMutex.RLock()
		probe := r.probe
		r.toolsMutex.RUnlock()

		if found, err := probe.HasAudioStream(ctx, outputPath); err == nil && !found {
			r.notifier.Notify("Recording has no sound", "The selected audio devices produced no audio stream.")
		}
	}

	r.onStateChanged()
}

func (r *Recorder) applyToolSettings() {
	enumerator := NewDeviceEnumerator(r.logger, r.runner, r.config.EnumeratorOptions())
	probe := NewAudioProbe(r.logger, r.runner, r.config.Tools.FFprobePath)

	r.toolsMutex.Lock()
	r.enumerator = enumerator
	r.probe = probe
	r.toolsMutex.Unlock()
}

func (r *Recorder) tools() *DeviceEnumerator {
	r.toolsMutex.RLock()
	defer r.toolsMutex.RUnlock()

	return r.enumerator
}

func (r *Recorder) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		r.logger.Debugw("Interrupted", "signal", signal)
		r.signalStop()
	}()
}

func (r *Recorder) run() {
	r.logger.Info("Run loop starting")

	// watch the config file for changes
	go r.config.WatchConfigFileChanges()

	r.setupOnConfigReload()
	r.setupOnSessionStateChange()

	go r.RefreshDevices(context.Background())

	// wait until stopped (gracefully)
	<-r.stopChannel
	r.logger.Debug("Stop channel signaled, terminating")

	if err := r.stop(); err != nil {
		r.logger.Warnw("Failed to stop recorder", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (r *Recorder) setupOnConfigReload() {
	configReloadedChannel := r.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			r.logger.Debug("Config reloaded, applying new settings")

			r.applyToolSettings()
			r.controller.Reconfigure(r.config.ControllerOptions())

			r.RefreshDevices(context.Background())
		}
	}()
}

// setupOnSessionStateChange re-renders on every controller state, including stopping,
// which is entered outside StartRecording and awaitResult
func (r *Recorder) setupOnSessionStateChange() {
	sessionStates := r.controller.SubscribeToStateChanges()

	go func() {
		for state := range sessionStates {
			r.logger.Debugw("Recording state changed", "state", state)
			r.onStateChanged()
		}
	}()
}

func (r *Recorder) signalStop() {
	r.stopping.Do(func() {
		r.logger.Debug("Signalling stop channel")
		r.stopChannel <- true
	})
}

func (r *Recorder) stop() error {
	r.logger.Info("Stopping")

	r.config.StopWatchingConfigFile()

	// a running recording gets finalized rather than cut off
	r.controller.Release()

	r.closeStateChannels()

	r.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	r.logger.Sync()

	return nil
}

func (r *Recorder) onStateChanged() {
	r.consumersMutex.RLock()
	defer r.consumersMutex.RUnlock()

	for _, consumer := range r.stateConsumers {
		select {
		case consumer <- true:
		default:
			// already has a pending change
		}
	}
}

func (r *Recorder) closeStateChannels() {
	r.consumersMutex.Lock()
	defer r.consumersMutex.Unlock()

	for _, ch := range r.stateConsumers {
		close(ch)
	}
	r.stateConsumers = nil

	r.logger.Debug("Closed all state channels")
}
