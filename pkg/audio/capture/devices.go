package capture

import (
	"github.com/gordonklaus/portaudio"
)

// DeviceInfo describes an audio device for the settings UI.
type DeviceInfo struct {
	Name      string
	IsDefault bool
}

// InputDevices lists capture-capable devices, default first.
func InputDevices() ([]DeviceInfo, error) {
	return listDevices(true)
}

// OutputDevices lists playback-capable devices, default first.
func OutputDevices() ([]DeviceInfo, error) {
	return listDevices(false)
}

func listDevices(input bool) ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var defaultName string
	if input {
		if dev, err := portaudio.DefaultInputDevice(); err == nil {
			defaultName = dev.Name
		}
	} else {
		if dev, err := portaudio.DefaultOutputDevice(); err == nil {
			defaultName = dev.Name
		}
	}

	var out []DeviceInfo
	for _, dev := range devices {
		channels := dev.MaxInputChannels
		if !input {
			channels = dev.MaxOutputChannels
		}
		if channels < 1 {
			continue
		}
		info := DeviceInfo{Name: dev.Name, IsDefault: dev.Name == defaultName}
		if info.IsDefault {
			out = append([]DeviceInfo{info}, out...)
		} else {
			out = append(out, info)
		}
	}
	return out, nil
}
