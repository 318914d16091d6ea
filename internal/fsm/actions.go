package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for door state machine actions.
// DoorSystem implements this interface to handle state entry/exit and to
// provide guards for conditional transitions.
type Actions interface {
	// State entry actions
	EnterIdle(c *librefsm.Context) error
	EnterCountdownPending(c *librefsm.Context) error
	EnterPulseInFlight(c *librefsm.Context) error
	EnterAwaitingConfirmation(c *librefsm.Context) error
	EnterFault(c *librefsm.Context) error

	// State exit actions
	ExitCountdownPending(c *librefsm.Context) error
	ExitAwaitingConfirmation(c *librefsm.Context) error
	ExitFault(c *librefsm.Context) error

	// Guards for conditional transitions
	HasCountdown(c *librefsm.Context) bool // True when a trigger delay is configured

	// Transition actions
	OnSafetyTimeout(c *librefsm.Context) error // Compares contact to expectation, alerts on mismatch
}
