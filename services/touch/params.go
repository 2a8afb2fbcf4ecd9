package touch

import (
	"errors"
	"fmt"
	"time"

	"bt532-go/drivers/bt532"
	"bt532-go/x/mathx"
)

// Params is the "touch" section of the board config.
type Params struct {
	Name     string `json:"name"`
	I2CBus   string `json:"i2c_bus"`
	I2CHz    int    `json:"i2c_hz"`
	Address  uint16 `json:"address,omitempty"`
	IntPin   string `json:"int_pin"`
	PowerPin string `json:"power_pin,omitempty"`

	MaxX    uint16 `json:"max_x"`
	MaxY    uint16 `json:"max_y"`
	Fingers int    `json:"fingers"`
	Buttons int    `json:"buttons"`
	Flip    uint8  `json:"flip"`
	NoPalm  bool   `json:"no_palm,omitempty"`

	Policy         string `json:"policy"`
	MinTuneVersion uint16 `json:"min_tune_version,omitempty"`
	SkipFirmware   bool   `json:"skip_firmware,omitempty"`
	NoChecksum     bool   `json:"no_checksum,omitempty"`
	Firmware       string `json:"firmware,omitempty"` // image path
	ForceRepat     bool   `json:"force_repat,omitempty"`

	EsdIntervalMs int  `json:"esd_interval_ms"`
	IRQQueue      int  `json:"irq_queue,omitempty"`
	Uinput        bool `json:"uinput,omitempty"`
}

const (
	defaultName     = "ts0"
	defaultEsdMs    = 1000
	defaultIRQQueue = 16
	minEsdMs        = 100
	maxEsdMs        = 60_000
)

// withDefaults fills zero values; it never overrides what the board set.
func (p Params) withDefaults() Params {
	if p.Name == "" {
		p.Name = defaultName
	}
	if p.Fingers == 0 {
		p.Fingers = bt532.DefaultFingers
	}
	if p.Policy == "" {
		p.Policy = bt532.PolicyMagicVersion.String()
	}
	if p.EsdIntervalMs == 0 {
		p.EsdIntervalMs = defaultEsdMs
	}
	p.EsdIntervalMs = mathx.Clamp(p.EsdIntervalMs, minEsdMs, maxEsdMs)
	if p.IRQQueue <= 0 {
		p.IRQQueue = defaultIRQQueue
	}
	return p
}

// EsdInterval is the watchdog period.
func (p Params) EsdInterval() time.Duration {
	return time.Duration(p.withDefaults().EsdIntervalMs) * time.Millisecond
}

// DriverConfig maps the board parameters onto a validated driver config.
func (p Params) DriverConfig() (bt532.Config, error) {
	p = p.withDefaults()
	cfg := bt532.DefaultConfig()
	if p.Address != 0 {
		cfg.Address = p.Address
	}
	if p.MaxX != 0 {
		cfg.MaxX = p.MaxX
	}
	if p.MaxY != 0 {
		cfg.MaxY = p.MaxY
	}
	cfg.Fingers = p.Fingers
	cfg.Buttons = p.Buttons
	cfg.Flip = p.Flip
	cfg.Palm = !p.NoPalm
	cfg.UseChecksum = !p.NoChecksum
	cfg.SkipFirmware = p.SkipFirmware
	cfg.MinTuneVersion = p.MinTuneVersion

	pol, err := bt532.ParsePolicy(p.Policy)
	if err != nil {
		return bt532.Config{}, err
	}
	cfg.Policy = pol

	if err := cfg.Validate(); err != nil {
		return bt532.Config{}, fmt.Errorf("touch %s: %w", p.Name, err)
	}
	return cfg, nil
}

var errNoI2CBus = errors.New("i2c_bus not set")

// validateHardware checks the fields only the platform layer needs.
func (p Params) validateHardware() error {
	if p.I2CBus == "" {
		return errNoI2CBus
	}
	if p.IntPin == "" {
		return errors.New("int_pin not set")
	}
	return nil
}
