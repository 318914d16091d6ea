package fsm

import (
	"github.com/librescoot/librefsm"
)

// NewDefinition creates the door FSM definition.
// The actions parameter provides the implementation for state entry/exit
// and guards.
//
// A trigger request is accepted in every state and always begins a fresh
// movement cycle: entering countdown-pending or pulse-in-flight cancels
// the previous cycle's timers via the exit actions, so no two cycles
// ever overlap.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateIdle,
			librefsm.WithOnEnter(actions.EnterIdle),
		).
		State(StateCountdownPending,
			librefsm.WithOnEnter(actions.EnterCountdownPending),
			librefsm.WithOnExit(actions.ExitCountdownPending),
		).
		State(StatePulseInFlight,
			librefsm.WithOnEnter(actions.EnterPulseInFlight),
		).
		State(StateAwaitingConfirmation,
			librefsm.WithOnEnter(actions.EnterAwaitingConfirmation),
			librefsm.WithOnExit(actions.ExitAwaitingConfirmation),
		).
		State(StateFault,
			librefsm.WithOnEnter(actions.EnterFault),
			librefsm.WithOnExit(actions.ExitFault),
		).

		// === Transitions ===

		// Trigger requests: countdown path when a delay is configured,
		// immediate pulse otherwise. Valid from any state.
		Transition(StateIdle, EvTrigger, StateCountdownPending,
			librefsm.WithGuard(actions.HasCountdown),
		).
		Transition(StateIdle, EvTrigger, StatePulseInFlight).
		Transition(StateCountdownPending, EvTrigger, StateCountdownPending,
			librefsm.WithGuard(actions.HasCountdown),
		).
		Transition(StateCountdownPending, EvTrigger, StatePulseInFlight).
		Transition(StatePulseInFlight, EvTrigger, StateCountdownPending,
			librefsm.WithGuard(actions.HasCountdown),
		).
		Transition(StatePulseInFlight, EvTrigger, StatePulseInFlight).
		Transition(StateAwaitingConfirmation, EvTrigger, StateCountdownPending,
			librefsm.WithGuard(actions.HasCountdown),
		).
		Transition(StateAwaitingConfirmation, EvTrigger, StatePulseInFlight).
		Transition(StateFault, EvTrigger, StateCountdownPending,
			librefsm.WithGuard(actions.HasCountdown),
		).
		Transition(StateFault, EvTrigger, StatePulseInFlight).

		// Countdown elapsed - proceed exactly as the zero-countdown path
		Transition(StateCountdownPending, EvCountdownElapsed, StatePulseInFlight).

		// Command issuer outcomes
		Transition(StatePulseInFlight, EvPulseAcked, StateAwaitingConfirmation).
		Transition(StatePulseInFlight, EvPulseFailed, StateFault).

		// An external sensor change always takes precedence over pending
		// control logic and resolves the cycle.
		Transition(StateCountdownPending, EvContactChanged, StateIdle).
		Transition(StatePulseInFlight, EvContactChanged, StateIdle).
		Transition(StateAwaitingConfirmation, EvContactChanged, StateIdle).

		// Safety window elapsed without a sensor update
		Transition(StateAwaitingConfirmation, EvSafetyTimeout, StateIdle,
			librefsm.WithAction(actions.OnSafetyTimeout),
		).

		// Fault status self-clears after the recovery grace period
		Transition(StateFault, EvFaultRecovered, StateIdle).

		// Initial state
		Initial(StateIdle)
}
