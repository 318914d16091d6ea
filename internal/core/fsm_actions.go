package core

import (
	"errors"
	"time"

	"github.com/librescoot/librefsm"

	"garage-door-service/internal/fsm"
	"garage-door-service/internal/transport"
)

// Ensure DoorSystem implements the fsm.Actions interface
var _ fsm.Actions = (*DoorSystem)(nil)

// pulseOutcome classifies one command-issuer run.
type pulseOutcome int

const (
	pulseAcked      pulseOutcome = iota // transport confirmed the write
	pulseAckTimeout                     // no ack, controller likely executed anyway
	pulseFailed                         // error persisted through the retry
)

// === State Entry/Exit Actions ===

func (d *DoorSystem) EnterIdle(c *librefsm.Context) error {
	d.logger.Debugf("FSM: EnterIdle")
	d.mu.Lock()
	d.expectedValid = false
	d.mu.Unlock()
	return nil
}

func (d *DoorSystem) EnterCountdownPending(c *librefsm.Context) error {
	d.mu.RLock()
	delay := d.cfg.CountdownDelay
	d.mu.RUnlock()

	d.logger.Infof("FSM: EnterCountdownPending - pulse in %s", delay)
	d.machine.StartTimer(fsm.TimerCountdown, delay, librefsm.Event{ID: fsm.EvCountdownElapsed})
	return nil
}

func (d *DoorSystem) ExitCountdownPending(c *librefsm.Context) error {
	d.machine.StopTimer(fsm.TimerCountdown)
	return nil
}

func (d *DoorSystem) EnterPulseInFlight(c *librefsm.Context) error {
	d.mu.Lock()
	d.pulseSeq++
	seq := d.pulseSeq
	// The movement is expected to flip the current position.
	expected := !d.contactOpen
	d.expectedOpen = expected
	d.expectedValid = true
	d.mu.Unlock()

	d.logger.Infof("FSM: EnterPulseInFlight - expecting open=%v", expected)
	go d.issuePulse(seq)
	return nil
}

func (d *DoorSystem) EnterAwaitingConfirmation(c *librefsm.Context) error {
	d.mu.RLock()
	window := d.cfg.RunTime
	d.mu.RUnlock()

	d.logger.Infof("FSM: EnterAwaitingConfirmation - safety window %s", window)
	d.machine.StartTimer(fsm.TimerSafety, window, librefsm.Event{ID: fsm.EvSafetyTimeout})
	return nil
}

func (d *DoorSystem) ExitAwaitingConfirmation(c *librefsm.Context) error {
	d.machine.StopTimer(fsm.TimerSafety)
	return nil
}

func (d *DoorSystem) EnterFault(c *librefsm.Context) error {
	d.logger.Warnf("FSM: EnterFault - trigger delivery failed, recovering in %s", d.faultRecoveryDelay)
	d.mu.Lock()
	d.expectedValid = false
	d.mu.Unlock()
	d.machine.StartTimer(fsm.TimerFaultRecovery, d.faultRecoveryDelay, librefsm.Event{ID: fsm.EvFaultRecovered})
	return nil
}

func (d *DoorSystem) ExitFault(c *librefsm.Context) error {
	d.machine.StopTimer(fsm.TimerFaultRecovery)
	return nil
}

// === Guards ===

func (d *DoorSystem) HasCountdown(c *librefsm.Context) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.CountdownDelay > 0
}

// === Transition Actions ===

// OnSafetyTimeout runs when the safety window elapses with no sensor
// update. The check fires only on silence; a sensor event would have
// resolved the cycle already.
func (d *DoorSystem) OnSafetyTimeout(c *librefsm.Context) error {
	d.mu.Lock()
	expected := d.expectedOpen
	valid := d.expectedValid
	actual := d.contactOpen
	if valid && actual != expected {
		d.alarmLatched = true
	}
	d.mu.Unlock()

	if !valid || actual == expected {
		d.logger.Debugf("FSM: safety window elapsed, position as expected")
		return nil
	}

	d.logger.Warnf("FSM: runtime discrepancy - expected open=%v, contact reports open=%v", expected, actual)

	// Re-sync the user-facing contact projection to ground truth before
	// alerting. Delivery failures are logged, never escalated.
	if err := d.redis.SetContactState(actual); err != nil {
		d.logger.Warnf("Failed to re-sync contact state: %v", err)
	}
	if err := d.redis.PublishRuntimeDiscrepancy(expected, actual); err != nil {
		d.logger.Warnf("Failed to deliver discrepancy alert: %v", err)
	}
	return nil
}

// === Command Issuer ===

// issuePulse runs the bounded-retry trigger write off the FSM goroutine
// and reports the classified outcome back as an event. Outcomes from a
// superseded cycle are discarded.
func (d *DoorSystem) issuePulse(seq uint64) {
	outcome := d.sendPulse()

	d.mu.RLock()
	current := d.pulseSeq
	d.mu.RUnlock()
	if current != seq {
		d.logger.Debugf("Discarding pulse outcome from superseded cycle %d", seq)
		return
	}

	switch outcome {
	case pulseAcked, pulseAckTimeout:
		d.machine.Send(librefsm.Event{ID: fsm.EvPulseAcked})
	case pulseFailed:
		d.machine.Send(librefsm.Event{ID: fsm.EvPulseFailed})
	}
}

// sendPulse performs one transport write with a single fixed-delay retry.
// An ack timeout counts as delivered: this controller routinely executes
// the pulse without acknowledging the write.
func (d *DoorSystem) sendPulse() pulseOutcome {
	err := d.link.SendTriggerPulse()
	if err == nil {
		return pulseAcked
	}
	if errors.Is(err, transport.ErrAckTimeout) {
		d.logger.Infof("Trigger pulse not acknowledged, assuming executed")
		return pulseAckTimeout
	}

	d.logger.Warnf("Trigger pulse failed, retrying in %s: %v", d.retryDelay, err)
	time.Sleep(d.retryDelay)

	err = d.link.SendTriggerPulse()
	if err == nil {
		return pulseAcked
	}
	if errors.Is(err, transport.ErrAckTimeout) {
		d.logger.Infof("Trigger pulse retry not acknowledged, assuming executed")
		return pulseAckTimeout
	}

	d.logger.Errorf("Trigger pulse failed after retry: %v", err)
	return pulseFailed
}
