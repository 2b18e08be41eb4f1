package application

import (
	"fmt"
	"strings"
)

// Phrases are the fixed feedback lines. BluetoothConnected takes the device name.
type Phrases struct {
	CommandFailed         string
	NoDevicesFound        string
	BluetoothError        string
	BluetoothConnected    string
	BluetoothDisconnected string
}

func DefaultPhrases() Phrases {
	return Phrases{
		CommandFailed:         "command processing error",
		NoDevicesFound:        "no devices found",
		BluetoothError:        "bluetooth connection error",
		BluetoothConnected:    "connected to %s",
		BluetoothDisconnected: "disconnected from bluetooth device",
	}
}

func (p Phrases) connectedTo(name string) string {
	if !strings.Contains(p.BluetoothConnected, "%s") {
		return p.BluetoothConnected + " " + name
	}
	return fmt.Sprintf(p.BluetoothConnected, name)
}

// WithDefaults fills every empty phrase from DefaultPhrases.
func (p Phrases) WithDefaults() Phrases {
	d := DefaultPhrases()
	fill(&p.CommandFailed, d.CommandFailed)
	fill(&p.NoDevicesFound, d.NoDevicesFound)
	fill(&p.BluetoothError, d.BluetoothError)
	fill(&p.BluetoothConnected, d.BluetoothConnected)
	fill(&p.BluetoothDisconnected, d.BluetoothDisconnected)
	return p
}

func fill(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
