package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stalexteam/screenrec/pkg/screenrec"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
)

func main() {
	root := newRootCommand()

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "screenrec",
		Short:        "Record the screen with FFmpeg from the system tray",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray()
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose logs")

	root.AddCommand(
		newRecordCommand(),
		newCommandCommand(),
		newDevicesCommand(),
		newDiagnoseCommand(),
	)

	return root
}

// newLogger creates the program-wide logger and logs version info
func newLogger() (*zap.SugaredLogger, error) {
	logger, err := screenrec.NewLogger(buildType)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	named := logger.Named("main")
	named.Debug("Created logger")
	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	return logger, nil
}

func runTray() error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	named := logger.Named("main")

	r, err := screenrec.NewRecorder(logger, verbose)
	if err != nil {
		named.Errorw("Failed to create recorder object", "error", err)
		return err
	}

	// if we have a version string, add it to the tray menu
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		r.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	if err := r.Initialize(); err != nil {
		named.Errorw("Failed to initialize recorder", "error", err)
		return err
	}

	return nil
}

// loadConfig prepares config for the headless subcommands; notifications go to the log
func loadConfig(logger *zap.SugaredLogger) (*screenrec.CanonicalConfig, error) {
	config, err := screenrec.NewConfig(logger, screenrec.NewLogNotifier(logger))
	if err != nil {
		return nil, fmt.Errorf("create config: %w", err)
	}

	if err := config.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return config, nil
}
