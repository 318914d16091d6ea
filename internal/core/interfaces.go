package core

import (
	"time"

	"garage-door-service/internal/messaging"
	"garage-door-service/internal/protocol"
	"garage-door-service/internal/transport"
	"garage-door-service/internal/types"
)

// MessagingClient defines the interface for Redis operations needed by DoorSystem
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// Status projection
	PublishDoorStatus(status types.DoorStatus) error
	SetContactState(open bool) error
	GetContactState() (open bool, known bool, err error)
	SetStatusCode(code string) error

	// Settings
	GetSetting(key string) (string, error)

	// Alerts
	PublishRuntimeDiscrepancy(expected, actual bool) error
	PublishOpenDurationAlert(openFor time.Duration) error
}

// DeviceLink defines the interface for the controller transport needed by
// DoorSystem
type DeviceLink interface {
	SetCallbacks(callbacks transport.Callbacks)
	Connect() error
	Close() error

	SendTriggerPulse() error
	WriteConfigValue(dp protocol.DataPointID, value uint32) error
}

// LocalContact is an optional hardwired position sensor feeding the same
// ingest path as the controller's contact data point.
type LocalContact interface {
	Initialize() error
	Read() (bool, error)
	Close()
}
