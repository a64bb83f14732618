package memory

import "fmt"

// Mode is the discrete operating tier derived from memory headroom.
// FULL means everything may run, LITE sheds the heaviest features, and
// MINIMAL keeps only the bare request path alive.
type Mode int

const (
	ModeFull Mode = iota
	ModeLite
	ModeMinimal
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "FULL"
	case ModeLite:
		return "LITE"
	case ModeMinimal:
		return "MINIMAL"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "FULL":
		return ModeFull, nil
	case "LITE":
		return ModeLite, nil
	case "MINIMAL":
		return ModeMinimal, nil
	default:
		return ModeFull, fmt.Errorf("unknown memory mode %q", s)
	}
}

// Allows reports whether an operation requiring at least the headroom of
// required may run while the system is in mode m. Lower values are less
// degraded, so FULL-only features stop once the mode drops below FULL.
func (m Mode) Allows(required Mode) bool {
	return m <= required
}
