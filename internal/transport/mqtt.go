package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"garage-door-service/internal/logger"
	"garage-door-service/internal/protocol"
)

// ErrAckTimeout reports that the broker did not acknowledge a publish
// within the ack window. The controller frequently executes the command
// anyway, so callers must not treat this as a failure.
var ErrAckTimeout = errors.New("publish not acknowledged within ack window")

const (
	connectTimeout    = 10 * time.Second
	defaultAckTimeout = 4 * time.Second
)

// Callbacks holds the handlers invoked for inbound frames from the device.
type Callbacks struct {
	SensorCallback func(protocol.SensorEvent) // decoded report frames, any data point
}

// MQTTLink is the device-side transport. Data-point reports arrive on
// garage-door/<device>/report/<dp>, writes go to garage-door/<device>/set/<dp>.
// Payloads are a datatype tag byte followed by the raw value bytes.
type MQTTLink struct {
	client     paho.Client
	logger     *logger.Logger
	deviceID   string
	dps        protocol.DataPoints
	callbacks  Callbacks
	ackTimeout time.Duration
}

func NewMQTTLink(broker, deviceID string, dps protocol.DataPoints, l *logger.Logger) *MQTTLink {
	link := &MQTTLink{
		logger:     l,
		deviceID:   deviceID,
		dps:        dps,
		ackTimeout: defaultAckTimeout,
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("garage-door-service-" + deviceID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(link.onConnect)

	link.client = paho.NewClient(opts)
	return link
}

// SetCallbacks registers the inbound frame handlers. Must be called before
// Connect.
func (m *MQTTLink) SetCallbacks(callbacks Callbacks) {
	m.callbacks = callbacks
}

func (m *MQTTLink) Connect() error {
	m.logger.Infof("Connecting to MQTT broker")

	token := m.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// onConnect subscribes to the report topics. Runs on every (re)connect so
// subscriptions survive broker restarts.
func (m *MQTTLink) onConnect(client paho.Client) {
	topic := fmt.Sprintf("garage-door/%s/report/+", m.deviceID)
	token := client.Subscribe(topic, 1, m.handleReport)
	if !token.WaitTimeout(connectTimeout) {
		m.logger.Errorf("Subscribe to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Errorf("Failed to subscribe to %s: %v", topic, err)
		return
	}
	m.logger.Infof("Subscribed to %s", topic)
}

func (m *MQTTLink) handleReport(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	dpStr := parts[len(parts)-1]
	dpNum, err := strconv.ParseUint(dpStr, 10, 8)
	if err != nil {
		m.logger.Warnf("Ignoring report with malformed data point %q", dpStr)
		return
	}

	ev, err := protocol.ParseFrame(protocol.DataPointID(dpNum), msg.Payload())
	if err != nil {
		m.logger.Warnf("Ignoring malformed report frame: %v", err)
		return
	}

	m.logger.Debugf("Report: dp=%d datatype=%d len=%d", ev.DataPoint, ev.Datatype, len(ev.Raw))
	if m.callbacks.SensorCallback != nil {
		m.callbacks.SensorCallback(ev)
	}
}

// SendTriggerPulse writes a momentary relay activation to the trigger data
// point. Returns ErrAckTimeout when the broker ack does not arrive in time.
func (m *MQTTLink) SendTriggerPulse() error {
	return m.publish(m.dps.Trigger, protocol.EncodeBool(true))
}

// WriteConfigValue mirrors a configuration value to a device data point.
func (m *MQTTLink) WriteConfigValue(dp protocol.DataPointID, value uint32) error {
	return m.publish(dp, protocol.EncodeUint(value))
}

func (m *MQTTLink) publish(dp protocol.DataPointID, frame []byte) error {
	topic := fmt.Sprintf("garage-door/%s/set/%d", m.deviceID, dp)

	// QoS 1: the command must reach the gateway, duplicates are harmless
	// for idempotent data-point writes.
	token := m.client.Publish(topic, 1, false, frame)
	if !token.WaitTimeout(m.ackTimeout) {
		return fmt.Errorf("write to data point %d: %w", dp, ErrAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("write to data point %d: %w", dp, err)
	}
	return nil
}

func (m *MQTTLink) Close() error {
	m.logger.Infof("Disconnecting from MQTT broker")
	m.client.Disconnect(1000)
	return nil
}
