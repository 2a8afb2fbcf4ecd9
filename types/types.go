package types

// ---- Common capability state (retained) ----

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp    Link = "up"
	LinkDown  Link = "down"
	LinkFault Link = "fault"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	State string `json:"state"` // work-state tag, e.g. "idle", "suspend"
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"`
}

// Info envelope each capability exposes (retained)
type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"`
}
