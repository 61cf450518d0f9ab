package ibpi

import (
	"errors"
	"fmt"
	"strings"
)

// State is an IBPI indicator pattern
type State int

const (
	Unknown State = iota
	Normal
	Off
	Locate
	Failure
	Rebuild
)

// ErrUnknownState is returned for names outside the IBPI vocabulary
var ErrUnknownState = errors.New("unknown pattern name")

// BaseStates must be accepted by every backend
var BaseStates = []State{Off, Normal, Locate, Failure, Rebuild}

var names = map[State]string{
	Unknown: "UNKNOWN",
	Normal:  "NORMAL",
	Off:     "OFF",
	Locate:  "LOCATE",
	Failure: "FAILURE",
	Rebuild: "REBUILD",
}

// inputNames maps user input (lower case) to patterns, aliases included
var inputNames = map[string]State{
	"normal":       Normal,
	"off":          Off,
	"locate":       Locate,
	"locate_off":   Normal,
	"failure":      Failure,
	"disk_failed":  Failure,
	"failed_drive": Failure,
	"rebuild":      Rebuild,
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return names[Unknown]
}

// IsBase reports whether s belongs to the base vocabulary
func (s State) IsBase() bool {
	for _, b := range BaseStates {
		if s == b {
			return true
		}
	}
	return false
}

// Parse converts a state token to a pattern. Matching is case-insensitive
// and accepts the aliases listed in inputNames as well as canonical names.
func Parse(name string) (State, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if s, ok := inputNames[key]; ok {
		return s, nil
	}
	return Unknown, fmt.Errorf("%s - %w", name, ErrUnknownState)
}

// Equivalent reports whether a read back state satisfies a requested one.
// OFF and NORMAL share one encoding on hardware that has no dedicated
// "all indicators off" value.
func Equivalent(requested, reported State) bool {
	if requested == reported {
		return true
	}
	return requested == Off && reported == Normal
}

// Names returns the accepted input names, used in help text
func Names() []string {
	return []string{"normal", "off", "locate", "failure", "rebuild", "locate_off", "disk_failed"}
}
