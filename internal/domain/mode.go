package domain

import "fmt"

// Mode is the engine's operating mode. It is mutable at runtime via the
// engine's SetMode.
type Mode string

const (
	// ModePaper simulates every order locally; the venue is never called.
	ModePaper Mode = "paper"
	// ModeSemiAuto queues signals for human confirmation before execution.
	ModeSemiAuto Mode = "semi_auto"
	// ModeAuto executes signals immediately through the live venue.
	ModeAuto Mode = "auto"
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, ModeSemiAuto, ModeAuto:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("domain: unknown mode %q (valid: paper, semi_auto, auto)", s)
	}
}
