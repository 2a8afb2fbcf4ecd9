package types

// ---- Touch capability info (retained) ----

type TouchInfo struct {
	Name         string `json:"name"`
	VendorID     uint16 `json:"vendor_id"`
	ChipCode     uint16 `json:"chip_code"`
	ChipRevision uint16 `json:"chip_revision"`
	HardwareID   uint16 `json:"hw_id"`
	Firmware     string `json:"firmware"` // major.minor.regdata
	XNodes       uint16 `json:"x_nodes"`
	YNodes       uint16 `json:"y_nodes"`
	MaxX         uint16 `json:"max_x"`
	MaxY         uint16 `json:"max_y"`
	Fingers      int    `json:"fingers"`
	Buttons      int    `json:"buttons"`
	IntMask      uint16 `json:"int_mask"`
	CalCount     uint8  `json:"cal_count"`
	TuneVersion  uint16 `json:"tune_version"`
	AutoTuned    bool   `json:"auto_tuned"`
	TouchMode    uint16 `json:"touch_mode"`
}

// ---- Touch events (non-retained) ----

type TouchEvent struct {
	Kind  string `json:"kind"` // "update", "release", "button_down", "button_up"
	Slot  int    `json:"slot"`
	X     uint16 `json:"x,omitempty"`
	Y     uint16 `json:"y,omitempty"`
	Width uint8  `json:"width,omitempty"`
	Palm  uint8  `json:"palm,omitempty"` // 1 palm, 2 palm reject
	New   bool   `json:"new,omitempty"`
}

// TouchFrame batches the events one interrupt produced.
type TouchFrame struct {
	Events []TouchEvent `json:"events"`
	Active int          `json:"active"`
	TS     int64        `json:"ts_ms"`
}

// ---- Touch control payloads ----

type FwUpdateRequest struct {
	Force bool `json:"force,omitempty"`
}

type SetModeRequest struct {
	Mode uint16 `json:"mode"`
}

type ControlReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	State  string `json:"state,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

type FwUpdateResult struct {
	Needed  bool   `json:"needed"`
	Flashed bool   `json:"flashed"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

type CalibrateResult struct {
	Ran         bool   `json:"ran"`
	CalCount    uint8  `json:"cal_count"`
	TuneVersion uint16 `json:"tune_version"`
	UnlockError string `json:"unlock_error,omitempty"`
}

// TouchStats is the diagnostic counter snapshot returned by "info".
type TouchStats struct {
	Frames       uint32 `json:"frames"`
	BusyDrops    uint32 `json:"busy_drops"`
	Spurious     uint32 `json:"spurious"`
	InvalidFrame uint32 `json:"invalid_frames"`
	SlotDrops    uint32 `json:"slot_drops"`
	ISRDrops     uint32 `json:"isr_drops"`
	Recoveries   uint32 `json:"recoveries"`
	EsdBusy      uint32 `json:"esd_busy"`
}
