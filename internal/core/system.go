// File: internal/core/system.go
package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/librescoot/librefsm"

	"garage-door-service/internal/fsm"
	"garage-door-service/internal/logger"
	"garage-door-service/internal/messaging"
	"garage-door-service/internal/protocol"
	"garage-door-service/internal/transport"
	"garage-door-service/internal/types"
)

// Runtime setting keys in the Redis settings hash.
const (
	settingCountdown = "garage-door.countdown-seconds"
	settingRunTime   = "garage-door.run-time-seconds"
	settingOpenAlarm = "garage-door.open-alarm-seconds"
)

const (
	defaultRunTime     = 20 * time.Second
	pulseRetryDelay    = 500 * time.Millisecond
	faultRecoveryGrace = 3 * time.Second
)

// Config holds the user-tunable timing parameters. Read-only to the state
// machine; mutated only by the settings handler.
type Config struct {
	CountdownDelay time.Duration // 0 = pulse immediately
	RunTime        time.Duration // confirmation-wait window
	OpenAlarm      time.Duration // 0 = open-duration alarm disabled
}

// featureSet is the fixed capability profile derived once from the
// data-point layout at construction. Never re-checked per event.
type featureSet struct {
	statusCode      bool
	mirrorCountdown bool
	mirrorRunTime   bool
	mirrorOpenAlarm bool
}

type DoorSystem struct {
	logger  *logger.Logger
	link    DeviceLink
	redis   MessagingClient
	contact LocalContact

	machine   *librefsm.Machine
	fsmCancel context.CancelFunc

	dps      protocol.DataPoints
	features featureSet

	mu             sync.RWMutex
	cfg            Config
	contactOpen    bool // last known sensor reading, ground truth for position
	contactKnown   bool
	expectedOpen   bool // contact value expected once the in-flight movement completes
	expectedValid  bool
	alarmLatched   bool // discrepancy alarm shown until the next sensor update or trigger
	pulseSeq       uint64
	openedAt       time.Time
	openAlarmTimer *time.Timer // independent of the trigger cycle

	// Fixed delays, overridable in tests
	retryDelay         time.Duration
	faultRecoveryDelay time.Duration
}

func NewDoorSystem(link DeviceLink, redis MessagingClient, dps protocol.DataPoints, l *logger.Logger) *DoorSystem {
	return &DoorSystem{
		logger: l,
		link:   link,
		redis:  redis,
		dps:    dps,
		features: featureSet{
			statusCode:      dps.StatusCode != 0,
			mirrorCountdown: dps.Countdown != 0,
			mirrorRunTime:   dps.RunTime != 0,
			mirrorOpenAlarm: dps.OpenAlarm != 0,
		},
		cfg: Config{
			RunTime: defaultRunTime,
		},
		retryDelay:         pulseRetryDelay,
		faultRecoveryDelay: faultRecoveryGrace,
	}
}

// SetLocalContact attaches an optional hardwired contact sensor. Must be
// called before Start.
func (d *DoorSystem) SetLocalContact(contact LocalContact) {
	d.contact = contact
}

func (d *DoorSystem) Start() error {
	d.logger.Infof("Starting door system")

	d.redis.SetCallbacks(messaging.Callbacks{
		TriggerCallback:  d.HandleTriggerRequest,
		SettingsCallback: d.handleSettingsUpdate,
	})
	d.link.SetCallbacks(transport.Callbacks{
		SensorCallback: d.handleSensorEvent,
	})

	if err := d.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Restore the last known contact reading so the initial projection is
	// not blindly "closed".
	open, known, err := d.redis.GetContactState()
	if err != nil {
		d.logger.Warnf("Failed to get saved contact state: %v", err)
	} else if known {
		d.logger.Infof("Restored contact state: open=%v", open)
		d.mu.Lock()
		d.contactOpen = open
		d.contactKnown = true
		d.mu.Unlock()
	}

	d.loadSettings()

	ctx, cancel := context.WithCancel(context.Background())
	d.fsmCancel = cancel
	if err := d.initFSM(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start state machine: %w", err)
	}

	if err := d.link.Connect(); err != nil {
		return fmt.Errorf("failed to connect device link: %w", err)
	}

	if d.contact != nil {
		if err := d.contact.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize contact sensor: %w", err)
		}
		if open, err := d.contact.Read(); err != nil {
			d.logger.Warnf("Failed to read initial contact state: %v", err)
		} else if err := d.HandleContactReport(open); err != nil {
			d.logger.Warnf("Failed to apply initial contact state: %v", err)
		}
	}

	// Re-arm the open-duration alarm for a door that was already open
	// before the service (re)started.
	d.mu.RLock()
	wasOpen := d.contactOpen && d.contactKnown
	d.mu.RUnlock()
	if wasOpen {
		d.mu.Lock()
		if d.openedAt.IsZero() {
			d.openedAt = time.Now()
		}
		d.mu.Unlock()
		d.updateOpenAlarm(true)
	}

	if err := d.publishStatus(); err != nil {
		d.logger.Warnf("Failed to publish initial status: %v", err)
	}

	// Start Redis listeners now that everything is initialized
	if err := d.redis.StartListening(); err != nil {
		return fmt.Errorf("failed to start Redis listeners: %w", err)
	}

	d.logger.Infof("Door system started")
	return nil
}

// initFSM initializes and starts the librefsm machine
func (d *DoorSystem) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(d)
	machine, err := def.Build()
	if err != nil {
		return err
	}
	d.machine = machine

	d.machine.OnStateChange(func(from, to librefsm.StateID) {
		d.logger.Infof("State transition: %s -> %s", from, to)

		// Project directly from the known new state (avoid re-entering
		// the machine from its own callback).
		if err := d.redis.PublishDoorStatus(d.statusForState(to)); err != nil {
			d.logger.Errorf("Failed to publish status: %v", err)
		}
	})

	if err := d.machine.Start(ctx); err != nil {
		return err
	}

	d.logger.Infof("door state machine started")
	return nil
}

// statusForState derives the user-facing status from the control state
// and the contact reading. Never persisted independently.
func (d *DoorSystem) statusForState(id librefsm.StateID) types.DoorStatus {
	switch id {
	case fsm.StateCountdownPending:
		return types.StatusCountdown
	case fsm.StatePulseInFlight, fsm.StateAwaitingConfirmation:
		return types.StatusMoving
	case fsm.StateFault:
		return types.StatusError
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.alarmLatched {
		return types.StatusAlarm
	}
	if d.contactOpen {
		return types.StatusOpen
	}
	return types.StatusClosed
}

func (d *DoorSystem) publishStatus() error {
	return d.redis.PublishDoorStatus(d.statusForState(d.machine.CurrentState()))
}

// HandleTriggerRequest starts a fresh movement cycle. User controls and
// automations share this single code path; a cycle already in progress is
// cancelled and restarted.
func (d *DoorSystem) HandleTriggerRequest() error {
	d.logger.Infof("Handling trigger request")

	d.mu.Lock()
	d.alarmLatched = false
	d.mu.Unlock()

	return d.machine.SendSync(librefsm.Event{ID: fsm.EvTrigger})
}

// handleSensorEvent routes decoded report frames. Only the contact and
// status-code data points are consumed; everything else is ignored.
func (d *DoorSystem) handleSensorEvent(ev protocol.SensorEvent) {
	switch ev.DataPoint {
	case d.dps.Contact:
		open, err := ev.Bool()
		if err != nil {
			d.logger.Warnf("Ignoring contact report: %v", err)
			return
		}
		if err := d.HandleContactReport(open); err != nil {
			d.logger.Errorf("Failed to handle contact report: %v", err)
		}

	case d.dps.StatusCode:
		if !d.features.statusCode {
			return
		}
		d.handleStatusCode(ev)

	default:
		d.logger.Debugf("Ignoring report for data point %d", ev.DataPoint)
	}
}

// handleStatusCode projects the controller's opaque status code for
// display. The core never interprets it.
func (d *DoorSystem) handleStatusCode(ev protocol.SensorEvent) {
	var code string
	switch ev.Datatype {
	case protocol.TypeEnum:
		v, err := ev.Enum()
		if err != nil {
			d.logger.Warnf("Ignoring status code report: %v", err)
			return
		}
		code = strconv.Itoa(int(v))
	case protocol.TypeValue:
		v, err := ev.Uint()
		if err != nil {
			d.logger.Warnf("Ignoring status code report: %v", err)
			return
		}
		code = strconv.Itoa(int(v))
	default:
		code = fmt.Sprintf("%x", ev.Bytes())
	}

	if err := d.redis.SetStatusCode(code); err != nil {
		d.logger.Warnf("Failed to record status code: %v", err)
	}
}

// HandleContactReport ingests a position-contact reading from either the
// controller or the local sensor. An external sensor change always takes
// precedence over pending control logic.
func (d *DoorSystem) HandleContactReport(open bool) error {
	d.logger.Infof("Contact report: open=%v", open)

	d.mu.Lock()
	wasOpen := d.contactOpen && d.contactKnown
	d.contactOpen = open
	d.contactKnown = true
	d.alarmLatched = false
	if open && !wasOpen {
		d.openedAt = time.Now()
	}
	d.mu.Unlock()

	if err := d.redis.SetContactState(open); err != nil {
		d.logger.Warnf("Failed to record contact state: %v", err)
	}

	d.updateOpenAlarm(open)

	// A sensor change during a movement cycle resolves the cycle, whether
	// or not it matches the expectation.
	switch d.machine.CurrentState() {
	case fsm.StateCountdownPending, fsm.StatePulseInFlight, fsm.StateAwaitingConfirmation:
		return d.machine.SendSync(librefsm.Event{ID: fsm.EvContactChanged})
	}

	return d.publishStatus()
}

// loadSettings reads the initial runtime settings from the settings hash.
func (d *DoorSystem) loadSettings() {
	for _, key := range []string{settingCountdown, settingRunTime, settingOpenAlarm} {
		value, err := d.redis.GetSetting(key)
		if err != nil {
			d.logger.Warnf("Failed to read setting %s: %v", key, err)
			continue
		}
		if value == "" {
			continue
		}
		if err := d.applySetting(key, value); err != nil {
			d.logger.Warnf("Ignoring setting %s=%q: %v", key, value, err)
		}
	}
}

// handleSettingsUpdate reacts to a settings-changed notification. The
// payload is the changed key; the value is read back from the hash.
func (d *DoorSystem) handleSettingsUpdate(key string) error {
	switch key {
	case settingCountdown, settingRunTime, settingOpenAlarm:
	default:
		d.logger.Debugf("Ignoring unrelated setting: %s", key)
		return nil
	}

	value, err := d.redis.GetSetting(key)
	if err != nil {
		return err
	}
	if err := d.applySetting(key, value); err != nil {
		return err
	}

	d.writeSettingToDevice(key)
	return nil
}

func (d *DoorSystem) applySetting(key, value string) error {
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	switch key {
	case settingCountdown:
		if seconds < 0 {
			return fmt.Errorf("countdown must be >= 0, got %d", seconds)
		}
		d.mu.Lock()
		d.cfg.CountdownDelay = time.Duration(seconds) * time.Second
		d.mu.Unlock()

	case settingRunTime:
		if seconds <= 0 {
			return fmt.Errorf("run time must be > 0, got %d", seconds)
		}
		d.mu.Lock()
		d.cfg.RunTime = time.Duration(seconds) * time.Second
		d.mu.Unlock()

	case settingOpenAlarm:
		if seconds < 0 {
			return fmt.Errorf("open alarm must be >= 0, got %d", seconds)
		}
		d.mu.Lock()
		d.cfg.OpenAlarm = time.Duration(seconds) * time.Second
		open := d.contactOpen && d.contactKnown
		d.mu.Unlock()
		// The pending timer must always reflect current config, never a
		// stale one.
		d.updateOpenAlarm(open)
	}

	d.logger.Infof("Applied setting %s=%d", key, seconds)
	return nil
}

// writeSettingToDevice mirrors an accepted setting to the matching device
// data point. Per-key best effort: a failed write never rolls back other
// keys.
func (d *DoorSystem) writeSettingToDevice(key string) {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	var dp protocol.DataPointID
	var value uint32
	switch key {
	case settingCountdown:
		if !d.features.mirrorCountdown {
			return
		}
		dp, value = d.dps.Countdown, uint32(cfg.CountdownDelay/time.Second)
	case settingRunTime:
		if !d.features.mirrorRunTime {
			return
		}
		dp, value = d.dps.RunTime, uint32(cfg.RunTime/time.Second)
	case settingOpenAlarm:
		if !d.features.mirrorOpenAlarm {
			return
		}
		dp, value = d.dps.OpenAlarm, uint32(cfg.OpenAlarm/time.Second)
	default:
		return
	}

	if err := d.link.WriteConfigValue(dp, value); err != nil {
		d.logger.Warnf("Failed to mirror %s to device: %v", key, err)
	}
}

func (d *DoorSystem) Shutdown() {
	d.logger.Infof("Shutting down door system")

	d.mu.Lock()
	if d.openAlarmTimer != nil {
		d.openAlarmTimer.Stop()
		d.openAlarmTimer = nil
	}
	// Orphan any in-flight command issuer so its outcome is discarded
	d.pulseSeq++
	d.mu.Unlock()

	if d.fsmCancel != nil {
		d.fsmCancel()
	}
	if d.contact != nil {
		d.contact.Close()
	}
	if d.link != nil {
		d.link.Close()
	}
	if d.redis != nil {
		d.redis.Close()
	}
}
