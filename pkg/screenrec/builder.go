package screenrec

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultToolPath        = "ffmpeg"
	defaultAudioBitrate    = "192k"
	defaultFilePrefix      = "recording_"
	defaultTimestampLayout = "20060102_150405"

	outputExtension = ".mp4"

	// 4:2:0 chroma subsampling - without it many players refuse the file
	pixelFormat = "yuv420p"

	videoCodec = "libx264"
	audioCodec = "aac"

	screenGrabber = "gdigrab"
	audioGrabber  = "dshow"

	// two audio inputs get merged into one stream that lasts as long as the longer one
	audioMixFilter = "[1:a][2:a]amix=inputs=2:duration=longest[aout]"
)

// CommandBuilder turns a CaptureSpec into an ffmpeg invocation. The zero value is usable
type CommandBuilder struct {
	ToolPath     string
	Scheme       QualityScheme
	AudioBitrate string

	// FilePrefix and TimestampLayout name the output file: <prefix><timestamp>.mp4
	FilePrefix      string
	TimestampLayout string

	// FileName, when set, is used as is and the prefix and timestamp are ignored
	FileName string

	// Overwrite makes ffmpeg replace an existing output file without asking
	Overwrite bool
}

// Build returns the argument vector (argv[0] is the tool) and the output file path.
// It's pure given the timestamp source; two builds in the same second share an output path
func (b *CommandBuilder) Build(spec CaptureSpec, outputDir string, now func() time.Time) ([]string, string, error) {
	if spec.FrameRate <= 0 {
		return nil, "", configError("frame rate", "must be positive, got %d", spec.FrameRate)
	}

	tuning, err := b.Scheme.Tuning(spec.Quality)
	if err != nil {
		return nil, "", err
	}

	videoArgs, err := videoSourceArgs(spec)
	if err != nil {
		return nil, "", err
	}

	if now == nil {
		now = time.Now
	}
	outputPath := b.outputPath(outputDir, now())

	argv := []string{b.toolPath()}
	argv = append(argv, videoArgs...)

	sources := spec.Audio.Sources()
	for _, device := range sources {
		argv = append(argv, "-f", audioGrabber, "-i", "audio="+device)
	}

	if len(sources) == 2 {
		argv = append(argv,
			"-filter_complex", audioMixFilter,
			"-map", "0:v",
			"-map", "[aout]",
		)
	}

	argv = append(argv,
		"-c:v", videoCodec,
		"-preset", tuning.Effort,
		"-crf", strconv.Itoa(tuning.Factor),
		"-pix_fmt", pixelFormat,
	)

	if len(sources) > 0 {
		argv = append(argv, "-c:a", audioCodec, "-b:a", b.audioBitrate())
	}

	if spec.Duration > 0 {
		argv = append(argv, "-t", formatSeconds(spec.Duration))
	}

	if b.Overwrite {
		argv = append(argv, "-y")
	}

	argv = append(argv, outputPath)

	return argv, outputPath, nil
}

func videoSourceArgs(spec CaptureSpec) ([]string, error) {
	args := []string{"-f", screenGrabber, "-framerate", strconv.Itoa(spec.FrameRate)}

	switch spec.Mode {
	case FullDesktop:
		return append(args, "-i", "desktop"), nil

	case Monitor:
		if len(spec.Monitors) == 0 {
			return nil, configError("monitor", "no monitors detected")
		}
		if spec.MonitorIndex < 0 || spec.MonitorIndex >= len(spec.Monitors) {
			return nil, configError("monitor", "index %d out of range (%d monitors)", spec.MonitorIndex, len(spec.Monitors))
		}

		m := spec.Monitors[spec.MonitorIndex]
		return append(args, regionArgs(Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height})...), nil

	case Window:
		if strings.TrimSpace(spec.WindowTitle) == "" {
			return nil, configError("window", "no window selected")
		}
		return append(args, "-i", "title="+spec.WindowTitle), nil

	case CustomArea:
		if spec.Area.Width <= 0 || spec.Area.Height <= 0 {
			return nil, configError("area", "size must be positive, got %dx%d", spec.Area.Width, spec.Area.Height)
		}
		return append(args, regionArgs(spec.Area)...), nil
	}

	return nil, configError("capture mode", "unsupported mode %s", spec.Mode)
}

func regionArgs(r Rect) []string {
	return []string{
		"-offset_x", strconv.Itoa(r.X),
		"-offset_y", strconv.Itoa(r.Y),
		"-video_size", fmt.Sprintf("%dx%d", r.Width, r.Height),
		"-i", "desktop",
	}
}

func (b *CommandBuilder) outputPath(outputDir string, t time.Time) string {
	if b.FileName != "" {
		return filepath.Join(outputDir, b.FileName)
	}

	prefix := b.FilePrefix
	if prefix == "" {
		prefix = defaultFilePrefix
	}

	layout := b.TimestampLayout
	if layout == "" {
		layout = defaultTimestampLayout
	}

	name := prefix + t.Format(layout) + outputExtension
	if outputDir == "" {
		return name
	}

	return filepath.Join(outputDir, name)
}

func (b *CommandBuilder) toolPath() string {
	if b.ToolPath == "" {
		return defaultToolPath
	}
	return b.ToolPath
}

func (b *CommandBuilder) audioBitrate() string {
	if b.AudioBitrate == "" {
		return defaultAudioBitrate
	}
	return b.AudioBitrate
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// CommandLine renders argv for display, quoting arguments that contain spaces
func CommandLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t\"") {
			quoted[i] = strconv.Quote(arg)
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}
