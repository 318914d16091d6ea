package types

// DoorStatus is the user-facing projection of the door. It is always
// recomputed from the control state and the contact reading, never stored
// as an independent source of truth.
type DoorStatus string

const (
	StatusOpen      DoorStatus = "open"
	StatusClosed    DoorStatus = "closed"
	StatusMoving    DoorStatus = "moving"
	StatusCountdown DoorStatus = "countdown"
	StatusAlarm     DoorStatus = "alarm"
	StatusError     DoorStatus = "error"
)
