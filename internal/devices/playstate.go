package devices

import "fmt"

// PlayState is the transport state reported by GetTransportInfo.
type PlayState int

const (
	PlayStateUnset PlayState = iota
	PlayStateError
	PlayStateStopped
	PlayStatePlaying
	PlayStatePaused
	PlayStateTransitioning
)

var transportStates = map[string]PlayState{
	"ERROR":           PlayStateError,
	"STOPPED":         PlayStateStopped,
	"PLAYING":         PlayStatePlaying,
	"PAUSED_PLAYBACK": PlayStatePaused,
	"TRANSITIONING":   PlayStateTransitioning,
}

// ParsePlayState maps a CurrentTransportState value by exact match.
// Unknown values yield PlayStateUnset.
func ParsePlayState(value string) PlayState {
	if state, ok := transportStates[value]; ok {
		return state
	}
	return PlayStateUnset
}

func (s PlayState) String() string {
	switch s {
	case PlayStateError:
		return "error"
	case PlayStateStopped:
		return "stopped"
	case PlayStatePlaying:
		return "playing"
	case PlayStatePaused:
		return "paused"
	case PlayStateTransitioning:
		return "transitioning"
	default:
		return "unset"
	}
}

// MarshalText renders the state as its lowercase name in JSON.
func (s PlayState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *PlayState) UnmarshalText(text []byte) error {
	for state := PlayStateUnset; state <= PlayStateTransitioning; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown play state %q", text)
}
