package model

import "time"

// Mode is the actuator state of the sprinkler.
type Mode int

const (
	ModeIdle Mode = iota
	ModeManual
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// SprinklerState holds the watering mode and when the current session began.
// A zero WateringStartedAt means no session is running (ModeIdle).
type SprinklerState struct {
	Mode              Mode
	WateringStartedAt time.Time
}

// Watering reports whether a session is running.
func (s SprinklerState) Watering() bool { return s.Mode != ModeIdle }

// Status projects the state onto the retained status payload.
func (s SprinklerState) Status() Status {
	switch s.Mode {
	case ModeManual:
		return StatusWateringMan
	case ModeAuto:
		return StatusWateringAuto
	default:
		return StatusAlive
	}
}
