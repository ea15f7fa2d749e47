package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// OpenHeadless requests an adapter and device without a surface and wraps them in a WGPUDevice. Closing the
// returned device also releases the adapter, the device and the instance.
//
// Parameters:
//   - forceFallbackAdapter: request the software adapter, for machines without a usable GPU
//
// Returns:
//   - *WGPUDevice: the texture device
//   - error: error if no adapter or device is available
func OpenHeadless(forceFallbackAdapter bool) (*WGPUDevice, error) {
	instance := wgpu.CreateInstance(nil)

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Import Device",
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}

	queue := device.GetQueue()
	d := NewWGPUDevice(device, queue)
	d.onClose = func() {
		queue.Release()
		device.Release()
		adapter.Release()
		instance.Release()
	}
	return d, nil
}
