package core

import "time"

// updateOpenAlarm re-evaluates the open-duration timer against the current
// contact reading and configuration. Stop-before-restart keeps at most one
// timer pending.
func (d *DoorSystem) updateOpenAlarm(open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openAlarmTimer != nil {
		d.openAlarmTimer.Stop()
		d.openAlarmTimer = nil
	}

	if !open {
		return
	}

	threshold := d.cfg.OpenAlarm
	if threshold <= 0 {
		// Feature disabled
		return
	}

	d.logger.Debugf("Arming open-duration alarm: %s", threshold)
	d.openAlarmTimer = time.AfterFunc(threshold, d.onOpenAlarm)
}

// onOpenAlarm fires when the door has stayed open past the threshold. The
// contact is re-checked because a close callback may race timer teardown.
func (d *DoorSystem) onOpenAlarm() {
	d.mu.Lock()
	open := d.contactOpen
	openedAt := d.openedAt
	d.openAlarmTimer = nil
	d.mu.Unlock()

	if !open {
		d.logger.Debugf("Open-duration alarm fired after close, ignoring")
		return
	}

	d.logger.Warnf("Door open past configured threshold")
	if err := d.redis.PublishOpenDurationAlert(time.Since(openedAt)); err != nil {
		d.logger.Warnf("Failed to deliver open-duration alert: %v", err)
	}
}
