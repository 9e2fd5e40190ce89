package screenrec

import (
	"fmt"

	"go.uber.org/zap"
)

// EndpointFlow tells which way audio moves through an endpoint
type EndpointFlow string

const (
	FlowOutput  EndpointFlow = "output"
	FlowInput   EndpointFlow = "input"
	FlowMonitor EndpointFlow = "monitor"
)

// AudioEndpoint is an audio device as the OS sees it. These names don't necessarily match
// what ffmpeg calls the same device, so they're for diagnostics only
type AudioEndpoint struct {
	Name        string
	Flow        EndpointFlow
	Description string
}

func (e AudioEndpoint) String() string {
	if e.Description == "" || e.Description == e.Name {
		return fmt.Sprintf("[%s] %s", e.Flow, e.Name)
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Flow, e.Description, e.Name)
}

// ListAudioEndpoints asks the OS audio stack for its active endpoints
func ListAudioEndpoints(logger *zap.SugaredLogger) ([]AudioEndpoint, error) {
	logger = logger.Named("endpoints")

	endpoints, err := listAudioEndpoints(logger)
	if err != nil {
		logger.Warnw("Failed to list audio endpoints", "error", err)
		return nil, fmt.Errorf("list audio endpoints: %w", err)
	}

	logger.Debugw("Listed audio endpoints", "count", len(endpoints))

	return endpoints, nil
}
