package screenrec

import (
	"fmt"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

func listAudioEndpoints(logger *zap.SugaredLogger) ([]AudioEndpoint, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}
	defer conn.Close()

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("screenrec"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	endpoints := []AudioEndpoint{}

	sinkReply := proto.GetSinkInfoListReply{}
	if err := client.Request(&proto.GetSinkInfoList{}, &sinkReply); err != nil {
		logger.Warnw("Failed to list PulseAudio sinks", "error", err)
	} else {
		for _, sink := range sinkReply {
			if sink == nil {
				continue
			}

			endpoints = append(endpoints, AudioEndpoint{
				Name:        sink.SinkName,
				Flow:        FlowOutput,
				Description: paDescription(sink.Properties),
			})
		}
	}

	sourceReply := proto.GetSourceInfoListReply{}
	if err := client.Request(&proto.GetSourceInfoList{}, &sourceReply); err != nil {
		logger.Warnw("Failed to list PulseAudio sources", "error", err)
	} else {
		for _, source := range sourceReply {
			if source == nil {
				continue
			}

			// monitor sources are how system audio gets recorded here
			flow := FlowInput
			if source.MonitorSourceIndex != proto.Undefined {
				flow = FlowMonitor
			}

			endpoints = append(endpoints, AudioEndpoint{
				Name:        source.SourceName,
				Flow:        flow,
				Description: paDescription(source.Properties),
			})
		}
	}

	return endpoints, nil
}

func paDescription(props proto.PropList) string {
	if props == nil {
		return ""
	}

	if desc, ok := props["device.description"]; ok {
		return desc.String()
	}

	return ""
}
