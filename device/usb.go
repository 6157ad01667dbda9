package device

import (
	"strings"

	"go.bug.st/serial"
)

// USBBaudRate is the AD2USB bridge's fixed rate.
const USBBaudRate = 115200

// USBDevice reaches an AD2USB. The bridge enumerates as an FTDI USB-serial
// converter, so it is a serial transport with the bridge's fixed baud rate.
type USBDevice struct {
	SerialDevice
}

// NewUSBDevice creates an unopened AD2USB transport for the given port path.
func NewUSBDevice(path string) *USBDevice {
	return &USBDevice{
		SerialDevice: SerialDevice{
			cfg: SerialConfig{Path: path, BaudRate: USBBaudRate},
		},
	}
}

func (u *USBDevice) String() string {
	return "usb://" + u.cfg.Path
}

// usbPortMarkers are the device-node name fragments USB-serial converters
// show up under across platforms.
var usbPortMarkers = []string{"ttyUSB", "ttyACM", "usbserial", "usbmodem", "COM"}

// FindAll lists serial ports that look like USB-serial bridges and are
// therefore AD2USB candidates.
func FindAll() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	var found []string
	for _, port := range ports {
		for _, marker := range usbPortMarkers {
			if strings.Contains(port, marker) {
				found = append(found, port)
				break
			}
		}
	}
	return found, nil
}
