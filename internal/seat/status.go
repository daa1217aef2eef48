// Package seat holds the three-state seat availability model shared by the
// poller and the notifier.
package seat

import "strings"

// Status is the normalized availability of a section.
type Status string

const (
	Unknown    Status = "UNKNOWN"
	Closed     Status = "CLOSED"
	Waitlisted Status = "WAITLISTED"
	Open       Status = "OPEN"
)

// Normalize maps a free-text upstream status to a Status.
// It never returns Unknown.
func Normalize(raw string) Status {
	s := strings.ToUpper(raw)
	hasOpen := strings.Contains(s, "OPEN")
	hasWaitlist := strings.Contains(s, "WAITLIST")

	switch {
	case hasOpen && hasWaitlist:
		return Waitlisted
	case hasOpen:
		return Open
	case hasWaitlist:
		return Waitlisted
	default:
		return Closed
	}
}

// Rank orders statuses: Unknown < Closed < Waitlisted < Open.
func Rank(s Status) int {
	switch s {
	case Closed:
		return 0
	case Waitlisted:
		return 1
	case Open:
		return 2
	default:
		return -1
	}
}

// IsUpward reports whether moving from -> to increases availability.
func IsUpward(from, to Status) bool {
	return Rank(to) > Rank(from)
}

// Notable reports whether a transition is worth telling subscribers about:
// it must be upward and land on at least Waitlisted.
func Notable(from, to Status) bool {
	return IsUpward(from, to) && Rank(to) >= Rank(Waitlisted)
}

// Valid reports whether s is one of the three persisted statuses.
func (s Status) Valid() bool {
	return s == Closed || s == Waitlisted || s == Open
}

func (s Status) String() string {
	return string(s)
}

// Preference is a subscriber's notification filter.
type Preference string

const (
	PreferOpen       Preference = "OPEN"
	PreferWaitlisted Preference = "WAITLISTED"
	PreferAny        Preference = "ANY"
)

// ParsePreference reads a stored preference; anything unrecognized means ANY.
func ParsePreference(raw string) Preference {
	switch Preference(strings.ToUpper(strings.TrimSpace(raw))) {
	case PreferOpen:
		return PreferOpen
	case PreferWaitlisted:
		return PreferWaitlisted
	default:
		return PreferAny
	}
}

// Accepts reports whether a subscriber with this preference wants to hear
// about a transition into to.
func (p Preference) Accepts(to Status) bool {
	if p == PreferAny {
		return true
	}
	return string(p) == string(to)
}
