package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stalexteam/screenrec/pkg/screenrec"
)

func newDevicesCommand() *cobra.Command {
	showEndpoints := false

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List monitors, audio devices and windows that can be recorded",
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

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			enumerator := screenrec.NewDeviceEnumerator(logger, screenrec.NewExecRunner(), config.EnumeratorOptions())

			monitors := enumerator.ListMonitors(ctx)
			printSection(out, "Monitors", len(monitors))
			for i, m := range monitors {
				fmt.Fprintf(out, "  %d. %s at %d,%d\n", i+1, m, m.X, m.Y)
			}

			devices := enumerator.ListAudioDevices(ctx)
			system, microphone := screenrec.ClassifyAudioDevices(devices)

			printSection(out, "System audio candidates", len(system))
			for _, d := range system {
				fmt.Fprintf(out, "  %s\n", d.Name)
			}

			printSection(out, "Microphone candidates", len(microphone))
			for _, d := range microphone {
				fmt.Fprintf(out, "  %s\n", d.Name)
			}

			if len(devices) == 0 {
				fmt.Fprintln(out, "  No audio devices found. Enable Stereo Mix or a microphone in the sound settings.")
			}

			windows := enumerator.ListWindowDetails(ctx)
			printSection(out, "Windows", len(windows))
			for _, w := range windows {
				fmt.Fprintf(out, "  %s\n", w)
			}

			if showEndpoints {
				endpoints, err := screenrec.ListAudioEndpoints(logger)
				if err != nil {
					fmt.Fprintf(out, "\nOS audio endpoints unavailable: %v\n", err)
					return nil
				}

				printSection(out, "OS audio endpoints", len(endpoints))
				for _, e := range endpoints {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showEndpoints, "endpoints", false, "also list the audio endpoints the OS knows about")

	return cmd
}

func printSection(out io.Writer, title string, count int) {
	fmt.Fprintf(out, "\n%s (%d):\n", title, count)
}
