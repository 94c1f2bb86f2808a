package compress

import "fmt"

// State is a step of the compression state machine.
type State int

const (
	// Primary runs the learned codec on the configured device.
	Primary State = iota
	// DeviceFallback retries the learned codec on the CPU after the device
	// ran out of memory.
	DeviceFallback
	// SizeFallback re-encodes the original as JPEG because the image is
	// smaller than the model's receptive field.
	SizeFallback
	// CatchAll re-encodes the original as JPEG after any other failure.
	CatchAll
	// Terminal means every method failed.
	Terminal
)

var stateNames = [...]string{
	Primary:        "primary",
	DeviceFallback: "device_fallback",
	SizeFallback:   "size_fallback",
	CatchAll:       "catch_all",
	Terminal:       "terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown compression state %q", text)
}

// Fallback reports whether the state skips the learned codec.
func (s State) Fallback() bool {
	return s == SizeFallback || s == CatchAll
}
