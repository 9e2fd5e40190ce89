package screenrec

import (
	"errors"
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"go.uber.org/zap"
)

func listAudioEndpoints(logger *zap.SugaredLogger) ([]AudioEndpoint, error) {
	// COM initialization is per thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		const eFalse = 1

		// S_FALSE: COM was already initialized on this thread, which is fine
		oleError := &ole.OleError{}
		if !errors.As(err, &oleError) || oleError.Code() != eFalse {
			return nil, fmt.Errorf("call CoInitializeEx: %w", err)
		}

		logger.Debug("CoInitializeEx reports COM already initialized")
	} else {
		defer ole.CoUninitialize()
	}

	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&mmde,
	); err != nil {
		return nil, fmt.Errorf("create device enumerator: %w", err)
	}
	defer mmde.Release()

	endpoints := []AudioEndpoint{}

	for _, dir := range []struct {
		dataFlow uint32
		flow     EndpointFlow
	}{
		{wca.ERender, FlowOutput},
		{wca.ECapture, FlowInput},
	} {
		found, err := collectEndpoints(mmde, dir.dataFlow, dir.flow)
		if err != nil {
			logger.Warnw("Failed to enumerate audio endpoints", "flow", dir.flow, "error", err)
			continue
		}

		endpoints = append(endpoints, found...)
	}

	return endpoints, nil
}

func collectEndpoints(mmde *wca.IMMDeviceEnumerator, dataFlow uint32, flow EndpointFlow) ([]AudioEndpoint, error) {
	var collection *wca.IMMDeviceCollection
	if err := mmde.EnumAudioEndpoints(dataFlow, wca.DEVICE_STATE_ACTIVE, &collection); err != nil {
		return nil, fmt.Errorf("enumerate active endpoints: %w", err)
	}
	defer collection.Release()

	var count uint32
	if err := collection.GetCount(&count); err != nil {
		return nil, fmt.Errorf("count endpoints: %w", err)
	}

	endpoints := make([]AudioEndpoint, 0, count)

	for i := uint32(0); i < count; i++ {
		var device *wca.IMMDevice
		if err := collection.Item(i, &device); err != nil {
			return nil, fmt.Errorf("get endpoint %d: %w", i, err)
		}

		endpoint, err := describeEndpoint(device, flow)
		device.Release()

		if err != nil {
			return nil, err
		}

		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func describeEndpoint(device *wca.IMMDevice, flow EndpointFlow) (AudioEndpoint, error) {
	var ps *wca.IPropertyStore
	if err := device.OpenPropertyStore(wca.STGM_READ, &ps); err != nil {
		return AudioEndpoint{}, fmt.Errorf("open endpoint property store: %w", err)
	}
	defer ps.Release()

	var pv wca.PROPVARIANT
	if err := ps.GetValue(&wca.PKEY_Device_FriendlyName, &pv); err != nil {
		return AudioEndpoint{}, fmt.Errorf("get endpoint friendly name: %w", err)
	}

	return AudioEndpoint{
		Name: pv.String(),
		Flow: flow,
	}, nil
}
