package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec"
	"github.com/stalexteam/screenrec/pkg/screenrec/util"
)

// captureFlags override the configured selection for a single run
type captureFlags struct {
	mode        string
	monitor     int
	window      string
	area        string
	frameRate   int
	quality     string
	scheme      string
	systemAudio string
	microphone  string
	duration    time.Duration
	outputDir   string
}

func (f *captureFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringVarP(&f.mode, "mode", "m", "", "capture mode: desktop, monitor, window or area")
	flags.IntVar(&f.monitor, "monitor", 1, "monitor number to record in monitor mode (1-based)")
	flags.StringVarP(&f.window, "window", "w", "", "title of the window to record in window mode")
	flags.StringVar(&f.area, "area", "", "rectangle to record in area mode, as x,y,width,height")
	flags.IntVarP(&f.frameRate, "fps", "r", 0, "frames per second")
	flags.StringVarP(&f.quality, "quality", "q", "", "quality: low, medium, high or ultra")
	flags.StringVar(&f.scheme, "scheme", "", "quality scheme: preset or crf")
	flags.StringVar(&f.systemAudio, "system-audio", "", "audio device for system sound (empty for none)")
	flags.StringVar(&f.microphone, "mic", "", "audio device for the microphone (empty for none)")
	flags.DurationVarP(&f.duration, "duration", "t", 0, "stop automatically after this long, e.g. 30s")
	flags.StringVarP(&f.outputDir, "output-dir", "o", "", "directory for the recording")
}

// recordingPlan is everything needed to launch one recording
type recordingPlan struct {
	config     *screenrec.CanonicalConfig
	spec       screenrec.CaptureSpec
	argv       []string
	outputPath string
}

func (f *captureFlags) plan(ctx context.Context, cmd *cobra.Command, logger *zap.SugaredLogger) (*recordingPlan, error) {
	config, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	sel := config.Selection()

	if flags.Changed("mode") {
		if sel.Mode, err = screenrec.ParseCaptureMode(f.mode); err != nil {
			return nil, err
		}
	}
	if flags.Changed("monitor") {
		sel.MonitorIndex = f.monitor - 1
	}
	if flags.Changed("window") {
		sel.WindowTitle = f.window
	}
	if flags.Changed("area") {
		if sel.Area, err = parseArea(f.area); err != nil {
			return nil, err
		}
	}
	if flags.Changed("fps") {
		sel.FrameRate = f.frameRate
	}
	if flags.Changed("quality") {
		if sel.Quality, err = screenrec.ParseQualityPreset(f.quality); err != nil {
			return nil, err
		}
	}
	if flags.Changed("system-audio") {
		sel.Audio.System = f.systemAudio
	}
	if flags.Changed("mic") {
		sel.Audio.Microphone = f.microphone
	}

	builder := config.CommandBuilder()
	if flags.Changed("scheme") {
		if builder.Scheme, err = screenrec.ParseQualityScheme(f.scheme); err != nil {
			return nil, err
		}
	}

	outputDir := config.OutputDir
	if flags.Changed("output-dir") {
		outputDir = f.outputDir
	}

	var monitors []screenrec.MonitorInfo
	if sel.Mode == screenrec.Monitor {
		enumerator := screenrec.NewDeviceEnumerator(logger, screenrec.NewExecRunner(), config.EnumeratorOptions())
		monitors = enumerator.ListMonitors(ctx)
	}

	spec := screenrec.CaptureSpec{
		Mode:         sel.Mode,
		Monitors:     monitors,
		MonitorIndex: sel.MonitorIndex,
		WindowTitle:  sel.WindowTitle,
		Area:         sel.Area,
		FrameRate:    sel.FrameRate,
		Quality:      sel.Quality,
		Audio:        sel.Audio,
		Duration:     f.duration,
	}

	argv, outputPath, err := builder.Build(spec, outputDir, time.Now)
	if err != nil {
		return nil, err
	}

	return &recordingPlan{
		config:     config,
		spec:       spec,
		argv:       argv,
		outputPath: outputPath,
	}, nil
}

func parseArea(s string) (screenrec.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return screenrec.Rect{}, &screenrec.ConfigurationError{Field: "area", Reason: "expected x,y,width,height"}
	}

	values := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return screenrec.Rect{}, &screenrec.ConfigurationError{Field: "area", Reason: fmt.Sprintf("%q is not a number", part)}
		}
		values[i] = v
	}

	return screenrec.Rect{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}

func newCommandCommand() *cobra.Command {
	flags := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Print the FFmpeg command a recording would run, without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			plan, err := flags.plan(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), screenrec.CommandLine(plan.argv))

			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newRecordCommand() *cobra.Command {
	flags := &captureFlags{}
	dryRun := false

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the terminal until Enter or Ctrl+C is pressed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			plan, err := flags.plan(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Command: %s\n", screenrec.CommandLine(plan.argv))

			if dryRun {
				return nil
			}

			return record(cmd, logger, plan)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the command and exit")

	return cmd
}

// waitForEnter closes the returned channel once a full line is read from r.
// A closed or failing input (stdin redirected from /dev/null, say) never closes it,
// and the recording then runs until Ctrl+C or until ffmpeg exits
func waitForEnter(r io.Reader) <-chan struct{} {
	enter := make(chan struct{})

	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err != nil {
			return
		}
		close(enter)
	}()

	return enter
}

func record(cmd *cobra.Command, logger *zap.SugaredLogger, plan *recordingPlan) error {
	out := cmd.OutOrStdout()

	if err := util.EnsureDirExists(filepath.Dir(plan.outputPath)); err != nil {
		return err
	}

	controller := screenrec.NewController(logger, plan.config.ControllerOptions())
	ticks := controller.SubscribeToTicks()

	if err := controller.Start(plan.argv, plan.outputPath); err != nil {
		if errors.Is(err, screenrec.ErrToolNotFound) {
			fmt.Fprintf(out, "FFmpeg not found. Install it and add it to PATH, or set ffmpeg_path in config.yaml.\n")
		}
		return err
	}

	fmt.Fprintf(out, "Recording to %s\n", plan.outputPath)
	if plan.spec.Duration > 0 {
		fmt.Fprintf(out, "Stopping after %s. ", plan.spec.Duration)
	}
	fmt.Fprintln(out, "Press Enter to stop.")

	go func() {
		for elapsed := range ticks {
			fmt.Fprintf(out, "\rElapsed: %s", util.FormatElapsed(elapsed))
		}
	}()

	enter := waitForEnter(cmd.InOrStdin())
	interrupt := util.SetupCloseHandler()

	var result error
	select {
	case <-enter:
		result = controller.RequestStop()
	case <-interrupt:
		result = controller.RequestStop()
	case <-controller.Done():
		result = controller.Wait(context.Background())
	}

	controller.Release()
	fmt.Fprintln(out)

	if result != nil {
		fmt.Fprintf(out, "Recording failed: %v\n", result)

		var incomplete *screenrec.RecordingIncompleteError
		if errors.As(result, &incomplete) && len(incomplete.Tail) > 0 {
			fmt.Fprintf(out, "FFmpeg output (last %d lines):\n%s\n", len(incomplete.Tail), incomplete.Diagnostic())
		}

		return result
	}

	status := controller.Status()
	fmt.Fprintf(out, "Saved %s (%s, %s)\n", status.OutputPath, util.FormatSize(status.OutputSize), util.FormatElapsed(status.Elapsed))

	if len(plan.spec.Audio.Sources()) > 0 {
		probe := screenrec.NewAudioProbe(logger, screenrec.NewExecRunner(), plan.config.Tools.FFprobePath)

		found, err := probe.HasAudioStream(context.Background(), status.OutputPath)
		switch {
		case err != nil:
			fmt.Fprintf(out, "Couldn't check the audio stream: %v\n", err)
		case found:
			fmt.Fprintln(out, "Audio stream present.")
		default:
			fmt.Fprintln(out, "Warning: the recording has no audio stream.")
		}
	}

	return nil
}
