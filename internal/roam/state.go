package roam

import (
	"encoding/json"
	"time"
)

// State is the lifecycle of a Coordinator. A run moves
// Idle -> Triggering -> Running -> Completed|Failed -> Idle.
type State int32

const (
	StateIdle State = iota
	StateTriggering
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggering:
		return "triggering"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status tags the terminal outcome of a run.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusTriggerError Status = "trigger_error"
	StatusEarlyExit    Status = "early_exit"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusFault        Status = "fault"
)

// State returns the terminal coordinator state for the status.
func (s Status) State() State {
	if s == StatusSuccess {
		return StateCompleted
	}
	return StateFailed
}

const (
	DefaultIface = "wlan0"
	DefaultRSSI  = -75
)

// Parameters are the operator supplied arguments of a roam run.
type Parameters struct {
	Iface string `json:"iface"`
	RSSI  int    `json:"rssi"`
}

// WithDefaults replaces empty values. RSSI 0 is treated as empty, a
// 0 dBm threshold would filter out every candidate anyway.
func (p Parameters) WithDefaults() Parameters {
	if p.Iface == "" {
		p.Iface = DefaultIface
	}
	if p.RSSI == 0 {
		p.RSSI = DefaultRSSI
	}
	return p
}

// Ack is the acknowledgement of a trigger request. Its content is not
// interpreted.
type Ack struct {
	Status string `json:"status"`
}

// Summary is the completion artifact of the remote test process. MTime
// is the modification time in seconds since the epoch, Data is opaque.
type Summary struct {
	MTime float64         `json:"mtime"`
	Data  json.RawMessage `json:"data"`
}

// Result is the terminal outcome of a single run.
type Result struct {
	RunID      string     `json:"run_id"`
	Parameters Parameters `json:"parameters"`
	Status     Status     `json:"status"`
	Message    string     `json:"message"`
	Summary    *Summary   `json:"summary"`
	Started    time.Time  `json:"started"`
	Stopped    time.Time  `json:"stopped"`
}

// Succeeded reports whether a fresh summary was obtained.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}
