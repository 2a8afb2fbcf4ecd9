package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board ID (same value placed in ctx under CtxBoardKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

const cfgRPiDSI = `{
  "touch": {
      "name": "ts0",
      "i2c_bus": "1",
      "i2c_hz": 400000,
      "int_pin": "GPIO4",
      "power_pin": "GPIO17",
      "max_x": 720,
      "max_y": 1280,
      "fingers": 5,
      "buttons": 2,
      "flip": 0,
      "policy": "magic_version",
      "esd_interval_ms": 1000,
      "firmware": "/lib/firmware/zinitix_bt532.fw",
      "uinput": true
  }
}`

const cfgDevKit = `{
  "touch": {
      "name": "ts0",
      "i2c_bus": "0",
      "i2c_hz": 100000,
      "int_pin": "GPIO25",
      "max_x": 480,
      "max_y": 800,
      "fingers": 2,
      "flip": 6,
      "policy": "none",
      "skip_firmware": true,
      "esd_interval_ms": 2000
  }
}`

var embeddedConfigs = map[string][]byte{
	"rpi-dsi": []byte(cfgRPiDSI),
	"devkit":  []byte(cfgDevKit),
}
