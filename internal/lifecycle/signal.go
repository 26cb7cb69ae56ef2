// Package lifecycle implements the control bus and rendezvous barriers that
// coordinate startup, reconfiguration, and shutdown across the server's
// long-lived tasks.
package lifecycle

import "github.com/beirdo/havokmud/internal/settings"

// Kind tags the variant carried by a ControlSignal.
type Kind int

const (
	// Reconfigure carries a freshly loaded Settings snapshot.
	Reconfigure Kind = iota
	// Shutdown tells every subscriber to drain and exit.
	Shutdown
)

// ControlSignal is the tagged union broadcast on the control bus. Every
// subscriber receives every value; there is no request/response pairing.
type ControlSignal struct {
	Kind     Kind
	Settings *settings.Settings
}

func (s ControlSignal) String() string {
	switch s.Kind {
	case Reconfigure:
		return "Reconfigure"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
