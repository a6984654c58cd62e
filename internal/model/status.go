package model

import "github.com/rotisserie/eris"

// Status is the lifecycle state of a stored posting.
//
//	ACTIVE ──► CHECKING ──► ACTIVE
//	   │           └──────► REMOVED
//	   └──────────────────► EXPIRED ◄── REMOVED
//
// REMOVED never returns to ACTIVE. EXPIRED is terminal.
type Status string

const (
	StatusActive   Status = "active"
	StatusChecking Status = "checking"
	StatusRemoved  Status = "removed"
	StatusExpired  Status = "expired"
)

var validTransitions = map[Status][]Status{
	StatusActive:   {StatusChecking, StatusExpired},
	StatusChecking: {StatusActive, StatusRemoved},
	StatusRemoved:  {StatusExpired},
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusActive, StatusChecking, StatusRemoved, StatusExpired:
		return st, nil
	}
	return "", eris.Errorf("unknown posting status %q", s)
}

// CanTransition reports whether moving from -> to is permitted.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
