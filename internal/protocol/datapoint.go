package protocol

import (
	"encoding/binary"
	"fmt"
)

// DataPointID identifies one numbered field in the controller's protocol
// extension. Each data point carries a single discrete piece of state.
type DataPointID uint8

// Datatype tags as reported by the controller. Raw bytes follow the tag
// byte in every frame.
const (
	TypeRaw   byte = 0 // opaque bytes, passed through
	TypeBool  byte = 1 // first byte, 1 = true
	TypeValue byte = 2 // big-endian unsigned integer, 1-4 bytes
	TypeEnum  byte = 4 // single byte, passed through
)

// DataPoints maps the controller functions to their data-point numbers.
// A zero entry means the device does not expose that function.
type DataPoints struct {
	Trigger    DataPointID
	Contact    DataPointID
	StatusCode DataPointID
	Countdown  DataPointID
	RunTime    DataPointID
	OpenAlarm  DataPointID
}

// DefaultDataPoints is the layout of the supported controller revision.
var DefaultDataPoints = DataPoints{
	Trigger:    1,
	Contact:    3,
	StatusCode: 12,
	Countdown:  7,
	RunTime:    4,
	OpenAlarm:  13,
}

// SensorEvent is one decoded report frame from the transport.
type SensorEvent struct {
	DataPoint DataPointID
	Datatype  byte
	Raw       []byte
}

// ParseFrame splits a report payload into its datatype tag and value bytes.
func ParseFrame(dp DataPointID, payload []byte) (SensorEvent, error) {
	if len(payload) == 0 {
		return SensorEvent{}, fmt.Errorf("empty frame for data point %d", dp)
	}
	return SensorEvent{
		DataPoint: dp,
		Datatype:  payload[0],
		Raw:       payload[1:],
	}, nil
}

// Bool decodes a boolean frame. Only the first byte is significant.
func (ev SensorEvent) Bool() (bool, error) {
	if ev.Datatype != TypeBool {
		return false, fmt.Errorf("data point %d: datatype %d is not boolean", ev.DataPoint, ev.Datatype)
	}
	if len(ev.Raw) < 1 {
		return false, fmt.Errorf("data point %d: boolean frame has no value byte", ev.DataPoint)
	}
	return ev.Raw[0] == 1, nil
}

// Uint decodes a big-endian unsigned integer frame of 1 to 4 bytes.
func (ev SensorEvent) Uint() (uint32, error) {
	if ev.Datatype != TypeValue {
		return 0, fmt.Errorf("data point %d: datatype %d is not an integer", ev.DataPoint, ev.Datatype)
	}
	if len(ev.Raw) == 0 || len(ev.Raw) > 4 {
		return 0, fmt.Errorf("data point %d: integer frame has %d value bytes", ev.DataPoint, len(ev.Raw))
	}
	var v uint32
	for _, b := range ev.Raw {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// Enum decodes a single-byte enum frame.
func (ev SensorEvent) Enum() (byte, error) {
	if ev.Datatype != TypeEnum {
		return 0, fmt.Errorf("data point %d: datatype %d is not an enum", ev.DataPoint, ev.Datatype)
	}
	if len(ev.Raw) != 1 {
		return 0, fmt.Errorf("data point %d: enum frame has %d value bytes", ev.DataPoint, len(ev.Raw))
	}
	return ev.Raw[0], nil
}

// Bytes returns the value bytes without interpretation. Unknown datatype
// tags fall back to this passthrough.
func (ev SensorEvent) Bytes() []byte {
	return ev.Raw
}

// EncodeBool builds a boolean write frame.
func EncodeBool(v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return []byte{TypeBool, b}
}

// EncodeUint builds a 4-byte big-endian integer write frame.
func EncodeUint(v uint32) []byte {
	frame := make([]byte, 5)
	frame[0] = TypeValue
	binary.BigEndian.PutUint32(frame[1:], v)
	return frame
}
