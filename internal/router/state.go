package router

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidTransition is returned for a lifecycle step that is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrInstallFailed means precaching failed and the version will never
	// activate.
	ErrInstallFailed = errors.New("install failed")

	// ErrUnknownMessage is returned for control messages the router does
	// not understand.
	ErrUnknownMessage = errors.New("unknown control message")
)

// State is a router version's lifecycle state.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
	StateRedundant
)

var stateNames = [...]string{
	StateUninstalled: "uninstalled",
	StateInstalling:  "installing",
	StateWaiting:     "waiting",
	StateActivating:  "activating",
	StateActive:      "active",
	StateRedundant:   "redundant",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	StateUninstalled: {StateInstalling},
	StateInstalling:  {StateWaiting, StateRedundant},
	StateWaiting:     {StateActivating, StateRedundant},
	StateActivating:  {StateActive, StateRedundant},
	StateActive:      {StateRedundant},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
