package screenrec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbePath    = "ffprobe"
	defaultProbeTimeout = 15 * time.Second
)

// AudioProbe inspects finished recordings
type AudioProbe struct {
	logger   *zap.SugaredLogger
	runner   CommandRunner
	toolPath string
	timeout  time.Duration
}

// NewAudioProbe creates an AudioProbe backed by ffprobe at toolPath
func NewAudioProbe(logger *zap.SugaredLogger, runner CommandRunner, toolPath string) *AudioProbe {
	logger = logger.Named("probe")

	if toolPath == "" {
		toolPath = defaultProbePath
	}

	logger.Debugw("Created audio probe instance", "tool", toolPath)

	return &AudioProbe{
		logger:   logger,
		runner:   runner,
		toolPath: toolPath,
		timeout:  defaultProbeTimeout,
	}
}

// HasAudioStream reports whether the file contains at least one audio stream
func (p *AudioProbe) HasAudioStream(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout, stderr, err := p.runner.Run(ctx, p.toolPath,
		"-i", path,
		"-show_streams",
		"-select_streams", "a",
		"-loglevel", "error",
	)
	if err != nil {
		p.logger.Warnw("Failed to probe recording", "path", path, "error", err, "stderr", string(stderr))
		return false, fmt.Errorf("probe %s: %w", path, err)
	}

	// ffprobe prints a [STREAM] block per matching stream and nothing otherwise
	found := strings.TrimSpace(string(stdout)) != ""
	p.logger.Debugw("Probed recording", "path", path, "audio", found)

	return found, nil
}
