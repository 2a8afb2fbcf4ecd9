// Package platform binds the touch service to the host: the I²C bus, the
// INT and power GPIOs, and the kernel input device.
package platform

import "errors"

var ErrUnsupported = errors.New("unsupported")

// Config names the host resources.
type Config struct {
	I2CBus   string // periph bus name, e.g. "1" for /dev/i2c-1
	I2CHz    int
	IntPin   string // periph pin name, e.g. "GPIO4"
	PowerPin string // empty when the supply is always on
}

// UinputConfig describes the multi-touch device to create.
type UinputConfig struct {
	Name       string
	MaxX, MaxY uint16
	Slots      int
	Buttons    int
}

// Button key codes, in button-index order.
var ButtonKeys = [...]uint16{
	217, // KEY_SEARCH
	158, // KEY_BACK
	102, // KEY_HOME
	139, // KEY_MENU
	59,  // KEY_F1
	60,  // KEY_F2
	61,  // KEY_F3
	62,  // KEY_F4
}
