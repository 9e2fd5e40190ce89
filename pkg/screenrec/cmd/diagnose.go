package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stalexteam/screenrec/pkg/screenrec"
)

var errUnhealthy = errors.New("diagnostics found problems")

func newDiagnoseCommand() *cobra.Command {
	opts := screenrec.DiagnoseOptions{}

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check FFmpeg, detect devices and make a 3 second test recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			config, err := loadConfig(logger)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("output-dir") {
				opts.OutputDir = config.OutputDir
			}

			runner := screenrec.NewExecRunner()
			enumerator := screenrec.NewDeviceEnumerator(logger, runner, config.EnumeratorOptions())
			diagnostician := screenrec.NewDiagnostician(logger, enumerator, runner, config.Tools.FFmpegPath, config.Tools.FFprobePath, config.MinOutputBytes)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Running diagnostics, move your mouse during the test recording...")

			report := diagnostician.Run(cmd.Context(), opts)

			for _, line := range report.Summary() {
				fmt.Fprintln(out, line)
			}

			for _, rec := range []*screenrec.TestRecording{report.Recording, report.MonitorRecording, report.AudioRecording} {
				var incomplete *screenrec.RecordingIncompleteError
				if rec != nil && errors.As(rec.Err, &incomplete) && len(incomplete.Tail) > 0 {
					fmt.Fprintf(out, "\nFFmpeg output (last %d lines):\n%s\n", len(incomplete.Tail), incomplete.Diagnostic())
				}
			}

			if report.ToolErr != nil {
				return report.ToolErr
			}

			if !report.Healthy() && !opts.SkipRecording {
				return errUnhealthy
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&opts.TestMonitor, "monitor", 0, "also record this monitor separately (1-based, 0 to skip)")
	cmd.Flags().StringVar(&opts.TestAudioDevice, "audio-device", "", "also record 5 seconds with sound from this audio device into test_with_audio.mp4")
	cmd.Flags().BoolVar(&opts.SkipRecording, "skip-recording", false, "only detect, don't record")
	cmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "directory for the test recordings")

	return cmd
}
