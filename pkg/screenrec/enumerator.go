package screenrec

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

const (
	defaultShellPath          = "powershell"
	defaultEnumerationTimeout = 10 * time.Second

	// forces UTF-8 so window titles and device names survive the pipe
	psUTF8Preamble = "[Console]::OutputEncoding = [System.Text.Encoding]::UTF8\n"

	psMonitorScript = psUTF8Preamble + `Add-Type -AssemblyName System.Windows.Forms
$index = 0
foreach ($screen in [System.Windows.Forms.Screen]::AllScreens) {
    $index++
    $primary = if ($screen.Primary) { " (PRIMARY)" } else { "" }
    Write-Output "Monitor $index$primary|$($screen.Bounds.X)|$($screen.Bounds.Y)|$($screen.Bounds.Width)|$($screen.Bounds.Height)"
}`

	psWindowScript = psUTF8Preamble + `Get-Process | Where-Object {$_.MainWindowTitle -ne ""} | Select-Object -ExpandProperty MainWindowTitle`
)

var (
	systemAudioKeywords = []string{"stereo mix", "wave out", "loopback"}
	microphoneKeywords  = []string{"microphone", "mic"}
)

// WindowInfo is a top-level window that can be captured by title
type WindowInfo struct {
	Title string

	// only filled in by the native lister
	PID        int
	Executable string
}

func (w WindowInfo) String() string {
	if w.Executable == "" {
		return w.Title
	}
	return fmt.Sprintf("%s (%s)", w.Title, w.Executable)
}

// windowLister is an alternative source of window titles that doesn't go through the shell
type windowLister interface {
	listWindows() ([]WindowInfo, error)
}

// EnumeratorOptions points the enumerator at its tools
type EnumeratorOptions struct {
	ToolPath      string
	ShellPath     string
	Timeout       time.Duration
	NativeWindows bool
}

// DeviceEnumerator lists monitors, audio devices and windows by running external tools.
// Every List* call fails soft: errors are logged and an empty slice is returned
type DeviceEnumerator struct {
	logger *zap.SugaredLogger
	runner CommandRunner

	toolPath  string
	shellPath string
	timeout   time.Duration

	windows windowLister
}

// NewDeviceEnumerator creates a DeviceEnumerator
func NewDeviceEnumerator(logger *zap.SugaredLogger, runner CommandRunner, opts EnumeratorOptions) *DeviceEnumerator {
	logger = logger.Named("enumerator")

	e := &DeviceEnumerator{
		logger:    logger,
		runner:    runner,
		toolPath:  opts.ToolPath,
		shellPath: opts.ShellPath,
		timeout:   opts.Timeout,
	}

	if e.toolPath == "" {
		e.toolPath = defaultToolPath
	}
	if e.shellPath == "" {
		e.shellPath = defaultShellPath
	}
	if e.timeout <= 0 {
		e.timeout = defaultEnumerationTimeout
	}

	if opts.NativeWindows {
		lister, err := newNativeWindowLister(logger)
		if err != nil {
			logger.Warnw("Native window enumeration unavailable, using shell", "error", err)
		} else {
			e.windows = lister
		}
	}

	logger.Debugw("Created device enumerator instance", "tool", e.toolPath, "shell", e.shellPath, "timeout", e.timeout)

	return e
}

// ListMonitors returns the connected monitors, or nothing if they can't be determined
// (callers fall back to full desktop capture)
func (e *DeviceEnumerator) ListMonitors(ctx context.Context) []MonitorInfo {
	stdout, _, err := e.runShell(ctx, psMonitorScript)
	if err != nil {
		e.logger.Warnw("Failed to enumerate monitors", "error", err)
		return []MonitorInfo{}
	}

	monitors := ParseMonitors(string(stdout))
	e.logger.Infow("Enumerated monitors", "count", len(monitors), "monitors", monitors)

	return monitors
}

// ListAudioDevices returns the DirectShow audio devices ffmpeg can capture from
func (e *DeviceEnumerator) ListAudioDevices(ctx context.Context) []AudioDevice {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, err := e.runner.Run(ctx, e.toolPath, "-hide_banner", "-list_devices", "true", "-f", audioGrabber, "-i", "dummy")

	// the dummy input always makes ffmpeg exit non-zero, only a missing tool or a timeout is fatal
	if err != nil && (errors.Is(err, ErrToolNotFound) || ctx.Err() != nil) {
		e.logger.Warnw("Failed to enumerate audio devices", "error", fmt.Errorf("%w: %v", ErrEnumeration, err))
		return []AudioDevice{}
	}

	devices := ParseAudioDevices(string(stdout) + "\n" + string(stderr))
	e.logger.Infow("Enumerated audio devices", "count", len(devices), "devices", devices)

	return devices
}

// ListWindows returns the titles of windows that have a non-empty main window title
func (e *DeviceEnumerator) ListWindows(ctx context.Context) []string {
	details := e.ListWindowDetails(ctx)

	titles := make([]string, 0, len(details))
	for _, w := range details {
		titles = append(titles, w.Title)
	}

	return titles
}

// ListWindowDetails is ListWindows plus owning process info when the native lister is in use
func (e *DeviceEnumerator) ListWindowDetails(ctx context.Context) []WindowInfo {
	if e.windows != nil {
		windows, err := e.windows.listWindows()
		if err == nil {
			e.logger.Infow("Enumerated windows", "count", len(windows), "source", "native")
			return windows
		}

		e.logger.Warnw("Native window enumeration failed, falling back to shell", "error", err)
	}

	stdout, _, err := e.runShell(ctx, psWindowScript)
	if err != nil {
		e.logger.Warnw("Failed to enumerate windows", "error", err)
		return []WindowInfo{}
	}

	titles := ParseWindowTitles(string(stdout))
	windows := make([]WindowInfo, len(titles))
	for i, title := range titles {
		windows[i] = WindowInfo{Title: title}
	}

	e.logger.Infow("Enumerated windows", "count", len(windows), "source", "shell")

	return windows
}

// CheckTool runs `<tool> -version` and returns the first line it prints
func (e *DeviceEnumerator) CheckTool(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, err := e.runner.Run(ctx, path, "-version")
	if err != nil {
		e.logger.Warnw("Tool check failed", "tool", path, "error", err)
		return "", fmt.Errorf("check %s: %w", path, err)
	}

	lines := util.SplitLines(string(stdout) + string(stderr))
	if len(lines) == 0 {
		return "", fmt.Errorf("check %s: empty version output", path)
	}

	version := strings.TrimSpace(lines[0])
	e.logger.Debugw("Tool available", "tool", path, "version", version)

	return version, nil
}

// RunningCaptureProcesses returns the PIDs of capture tool processes already running on this machine
func (e *DeviceEnumerator) RunningCaptureProcesses() ([]int, error) {
	processes, err := ps.Processes()
	if err != nil {
		e.logger.Warnw("Failed to list processes", "error", err)
		return nil, fmt.Errorf("list processes: %w", err)
	}

	base := strings.TrimSuffix(strings.ToLower(filepath.Base(e.toolPath)), ".exe")

	pids := []int{}
	for _, p := range processes {
		if strings.TrimSuffix(strings.ToLower(p.Executable()), ".exe") == base {
			pids = append(pids, p.Pid())
		}
	}

	return pids, nil
}

func (e *DeviceEnumerator) runShell(ctx context.Context, script string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdout, stderr, err := e.runner.Run(ctx, e.shellPath, "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	return stdout, stderr, nil
}

// ClassifyAudioDevices splits devices into system-audio and microphone candidates by keyword.
// The match is a heuristic: an empty bucket falls back to every device so there's always something to pick
func ClassifyAudioDevices(devices []AudioDevice) (system []AudioDevice, microphone []AudioDevice) {
	fold := cases.Fold()

	matches := func(name string, keywords []string) bool {
		folded := fold.String(name)
		for _, keyword := range keywords {
			if strings.Contains(folded, fold.String(keyword)) {
				return true
			}
		}
		return false
	}

	system = []AudioDevice{}
	microphone = []AudioDevice{}

	for _, d := range devices {
		if matches(d.Name, systemAudioKeywords) {
			system = append(system, d)
		}
		if matches(d.Name, microphoneKeywords) {
			microphone = append(microphone, d)
		}
	}

	if len(system) == 0 {
		system = append(system, devices...)
	}
	if len(microphone) == 0 {
		microphone = append(microphone, devices...)
	}

	return system, microphone
}
