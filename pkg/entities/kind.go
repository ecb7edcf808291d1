package entities

import "fmt"

// Kind is the kind of a sanction record.
type Kind string

const (
	KindWarn    Kind = "warn"
	KindTimeout Kind = "timeout"
	KindMute    Kind = "mute"
	KindKick    Kind = "kick"
	KindBan     Kind = "ban"

	KindUnwarn    Kind = "unwarn"
	KindUntimeout Kind = "untimeout"
	KindUnmute    Kind = "unmute"
	KindUnban     Kind = "unban"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWarn, KindTimeout, KindMute, KindKick, KindBan,
		KindUnwarn, KindUntimeout, KindUnmute, KindUnban:
		return true
	default:
		return false
	}
}

// IsCounter reports whether k reverses another kind.
func (k Kind) IsCounter() bool {
	switch k {
	case KindUnwarn, KindUntimeout, KindUnmute, KindUnban:
		return true
	default:
		return false
	}
}

// Enforced reports whether a record of this kind stays in force after it is created, and so starts
// out active. Only one record of an enforced kind may be active per guild and user.
func (k Kind) Enforced() bool {
	switch k {
	case KindTimeout, KindMute, KindBan:
		return true
	default:
		return false
	}
}

// Counter returns the kind that reverses k.
func (k Kind) Counter() (Kind, error) {
	switch k {
	case KindWarn:
		return KindUnwarn, nil
	case KindTimeout:
		return KindUntimeout, nil
	case KindMute:
		return KindUnmute, nil
	case KindBan:
		return KindUnban, nil
	default:
		return "", fmt.Errorf("kind %q cannot be reversed", k)
	}
}

// Reverses returns the kind that a counter kind reverses.
func (k Kind) Reverses() (Kind, error) {
	switch k {
	case KindUnwarn:
		return KindWarn, nil
	case KindUntimeout:
		return KindTimeout, nil
	case KindUnmute:
		return KindMute, nil
	case KindUnban:
		return KindBan, nil
	default:
		return "", fmt.Errorf("kind %q is not a counter kind", k)
	}
}
