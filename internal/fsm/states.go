package fsm

import "github.com/librescoot/librefsm"

// Door control states
const (
	StateIdle                 librefsm.StateID = "idle"
	StateCountdownPending     librefsm.StateID = "countdown-pending"
	StatePulseInFlight        librefsm.StateID = "pulse-in-flight"
	StateAwaitingConfirmation librefsm.StateID = "awaiting-confirmation"
	StateFault                librefsm.StateID = "fault"
)

// Door control events
const (
	// External requests (from Redis or an automation)
	EvTrigger librefsm.EventID = "trigger"

	// Command issuer outcomes
	EvPulseAcked  librefsm.EventID = "pulse-acked"
	EvPulseFailed librefsm.EventID = "pulse-failed"

	// Sensor ingest
	EvContactChanged librefsm.EventID = "contact-changed"

	// Timer events
	EvCountdownElapsed librefsm.EventID = "countdown-elapsed"
	EvSafetyTimeout    librefsm.EventID = "safety-timeout"
	EvFaultRecovered   librefsm.EventID = "fault-recovered"
)

// Timer names for imperative timers. Durations are configuration-driven,
// so the timers are started from state entry actions rather than baked
// into the definition.
const (
	TimerCountdown     = "countdown"
	TimerSafety        = "safety"
	TimerFaultRecovery = "fault-recovery"
)
