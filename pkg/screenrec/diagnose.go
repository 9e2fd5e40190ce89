package screenrec

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

const (
	diagnosticFrameRate       = 15
	diagnosticDuration        = 3 * time.Second
	diagnosticRecordTimeout   = 15 * time.Second
	diagnosticFilePrefix      = "test_"
	diagnosticTimestampLayout = "150405"

	audioTestFileName     = "test_with_audio.mp4"
	audioTestDuration     = 5 * time.Second
	audioTestAudioBitrate = "192k"
)

// TestRecording is the outcome of one short diagnostic capture
type TestRecording struct {
	Argv       []string
	OutputPath string
	Size       int64
	Err        error
}

// DiagnosticReport collects everything Diagnose found out about the recording setup
type DiagnosticReport struct {
	ToolVersion string
	ToolErr     error

	Monitors     []MonitorInfo
	AudioDevices []AudioDevice

	Endpoints   []AudioEndpoint
	EndpointErr error

	// capture tool processes that were already running before we started
	StrayProcesses []int

	Recording        *TestRecording
	MonitorRecording *TestRecording

	// AudioRecording is only made when DiagnoseOptions.TestAudioDevice is set
	AudioRecording *TestRecording
}

// Healthy is true when the tool works and the basic test recording produced a usable file.
// A requested audio test recording must also have an audio stream
func (r *DiagnosticReport) Healthy() bool {
	if r.ToolErr != nil || r.Recording == nil || r.Recording.Err != nil {
		return false
	}
	return r.AudioRecording == nil || r.AudioRecording.Err == nil
}

// Summary renders the report as short human-readable lines
func (r *DiagnosticReport) Summary() []string {
	mark := func(ok bool) string {
		if ok {
			return "OK  "
		}
		return "FAIL"
	}

	if r.ToolErr != nil {
		return []string{fmt.Sprintf("%s capture tool: %v", mark(false), r.ToolErr)}
	}

	lines := []string{
		fmt.Sprintf("%s capture tool: %s", mark(true), r.ToolVersion),
		fmt.Sprintf("%s monitors: %d detected", mark(len(r.Monitors) > 0), len(r.Monitors)),
		fmt.Sprintf("%s audio devices: %d detected", mark(len(r.AudioDevices) > 0), len(r.AudioDevices)),
	}

	if r.EndpointErr == nil {
		lines = append(lines, fmt.Sprintf("%s OS audio endpoints: %d", mark(true), len(r.Endpoints)))
	}

	if len(r.StrayProcesses) > 0 {
		lines = append(lines, fmt.Sprintf("WARN capture tool already running (pids %v)", r.StrayProcesses))
	}

	for _, rec := range []*TestRecording{r.Recording, r.MonitorRecording, r.AudioRecording} {
		if rec == nil {
			continue
		}
		if rec.Err != nil {
			lines = append(lines, fmt.Sprintf("%s test recording: %v", mark(false), rec.Err))
		} else {
			lines = append(lines, fmt.Sprintf("%s test recording: %s (%s)", mark(true), rec.OutputPath, util.FormatSize(rec.Size)))
		}
	}

	return lines
}

// DiagnoseOptions controls which tests Diagnose runs
type DiagnoseOptions struct {
	OutputDir string

	// TestMonitor is a 1-based monitor number to record separately; 0 skips that test
	TestMonitor int

	// TestAudioDevice is a dshow audio device to record from into test_with_audio.mp4; empty skips that test
	TestAudioDevice string

	SkipRecording bool
}

// Diagnostician runs the checks behind the "diagnose" command and tray item
type Diagnostician struct {
	logger     *zap.SugaredLogger
	enumerator *DeviceEnumerator
	runner     CommandRunner
	probe      *AudioProbe

	toolPath       string
	minOutputBytes int64

	listEndpoints func(*zap.SugaredLogger) ([]AudioEndpoint, error)
	now           func() time.Time
}

// NewDiagnostician creates a Diagnostician
func NewDiagnostician(logger *zap.SugaredLogger, enumerator *DeviceEnumerator, runner CommandRunner,
	toolPath string, probePath string, minOutputBytes int64) *Diagnostician {
	logger = logger.Named("diagnose")

	if toolPath == "" {
		toolPath = defaultToolPath
	}
	if minOutputBytes <= 0 {
		minOutputBytes = defaultMinOutputBytes
	}

	logger.Debug("Created diagnostician instance")

	return &Diagnostician{
		logger:         logger,
		enumerator:     enumerator,
		runner:         runner,
		probe:          NewAudioProbe(logger, runner, probePath),
		toolPath:       toolPath,
		minOutputBytes: minOutputBytes,
		listEndpoints:  ListAudioEndpoints,
		now:            time.Now,
	}
}

// Run checks the tool, enumerates everything and makes the test recordings.
// Nothing after the tool check runs if the tool is missing
func (d *Diagnostician) Run(ctx context.Context, opts DiagnoseOptions) *DiagnosticReport {
	report := &DiagnosticReport{}

	report.ToolVersion, report.ToolErr = d.enumerator.CheckTool(ctx, d.toolPath)
	if report.ToolErr != nil {
		d.logger.Warnw("Capture tool unavailable, skipping remaining checks", "error", report.ToolErr)
		return report
	}

	report.Monitors = d.enumerator.ListMonitors(ctx)
	report.AudioDevices = d.enumerator.ListAudioDevices(ctx)
	report.Endpoints, report.EndpointErr = d.listEndpoints(d.logger)

	if pids, err := d.enumerator.RunningCaptureProcesses(); err == nil {
		report.StrayProcesses = pids
	}

	if opts.SkipRecording {
		return report
	}

	report.Recording = d.testRecording(ctx, d.testBuilder(diagnosticFilePrefix), opts.OutputDir, CaptureSpec{Mode: FullDesktop})

	if opts.TestMonitor > 0 && opts.TestMonitor <= len(report.Monitors) {
		report.MonitorRecording = d.testRecording(ctx,
			d.testBuilder(fmt.Sprintf("%smonitor%d_", diagnosticFilePrefix, opts.TestMonitor)),
			opts.OutputDir,
			CaptureSpec{
				Mode:         Monitor,
				Monitors:     report.Monitors,
				MonitorIndex: opts.TestMonitor - 1,
			})
	} else if opts.TestMonitor != 0 {
		d.logger.Warnw("Requested test monitor doesn't exist", "monitor", opts.TestMonitor, "count", len(report.Monitors))
	}

	if opts.TestAudioDevice != "" {
		report.AudioRecording = d.audioTestRecording(ctx, opts.OutputDir, opts.TestAudioDevice, report.AudioDevices)
	}

	d.logger.Infow("Diagnostics finished", "healthy", report.Healthy())

	return report
}

// audioTestRecording records the desktop with sound from device and checks the file really has an audio stream
func (d *Diagnostician) audioTestRecording(ctx context.Context, outputDir string, device string, known []AudioDevice) *TestRecording {
	listed := false
	for _, dev := range known {
		if dev.Name == device {
			listed = true
			break
		}
	}
	if !listed {
		d.logger.Warnw("Audio test device wasn't in the device list, trying anyway", "device", device)
	}

	builder := d.testBuilder("")
	builder.FileName = audioTestFileName
	builder.AudioBitrate = audioTestAudioBitrate

	rec := d.testRecording(ctx, builder, outputDir, CaptureSpec{
		Mode:     FullDesktop,
		Audio:    AudioSelection{System: device},
		Duration: audioTestDuration,
	})
	if rec.Err != nil {
		return rec
	}

	found, err := d.probe.HasAudioStream(ctx, rec.OutputPath)
	switch {
	case err != nil:
		rec.Err = fmt.Errorf("check audio stream: %w", err)
	case !found:
		rec.Err = fmt.Errorf("%w from %q", ErrNoAudioStream, device)
	}

	if rec.Err != nil {
		d.logger.Warnw("Audio test recording failed", "device", device, "error", rec.Err)
	} else {
		d.logger.Infow("Audio test recording has sound", "device", device, "path", rec.OutputPath)
	}

	return rec
}

func (d *Diagnostician) testBuilder(prefix string) *CommandBuilder {
	return &CommandBuilder{
		ToolPath:        d.toolPath,
		Scheme:          SchemeFactorOnly,
		FilePrefix:      prefix,
		TimestampLayout: diagnosticTimestampLayout,
		Overwrite:       true,
	}
}

func (d *Diagnostician) testRecording(ctx context.Context, builder *CommandBuilder, outputDir string, spec CaptureSpec) *TestRecording {
	spec.FrameRate = diagnosticFrameRate
	spec.Quality = QualityLow
	if spec.Duration <= 0 {
		spec.Duration = diagnosticDuration
	}

	argv, outputPath, err := builder.Build(spec, outputDir, d.now)
	if err != nil {
		return &TestRecording{Size: -1, Err: err}
	}

	rec := &TestRecording{Argv: argv, OutputPath: outputPath}

	d.logger.Infow("Starting test recording", "command", CommandLine(argv))

	ctx, cancel := context.WithTimeout(ctx, diagnosticRecordTimeout)
	defer cancel()

	_, stderr, runErr := d.runner.Run(ctx, argv[0], argv[1:]...)

	rec.Size = util.FileSize(outputPath)
	if rec.Size > d.minOutputBytes {
		d.logger.Infow("Test recording succeeded", "path", outputPath, "size", rec.Size)
		return rec
	}

	incomplete := &RecordingIncompleteError{
		OutputPath: outputPath,
		Size:       rec.Size,
		ExitErr:    runErr,
		Tail:       util.LastLines(string(stderr), defaultTailLines),
	}
	rec.Err = incomplete

	d.logger.Warnw("Test recording failed", "error", incomplete, "tail", incomplete.Diagnostic())

	return rec
}
