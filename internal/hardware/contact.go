package hardware

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"garage-door-service/internal/logger"
)

const debouncePeriod = 20 * time.Millisecond

// ContactCallback is invoked with the debounced logical contact state,
// true meaning the door is open.
type ContactCallback func(open bool) error

// ContactSensor watches a hardwired reed contact on a GPIO line. It is an
// alternative source for the same position reading the controller reports
// as a data point; both feed the identical sensor-ingest path.
type ContactSensor struct {
	logger    *logger.Logger
	chipName  string
	offset    int
	activeLow bool
	callback  ContactCallback
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
}

func NewContactSensor(chipName string, offset int, activeLow bool, l *logger.Logger, callback ContactCallback) *ContactSensor {
	return &ContactSensor{
		logger:    l,
		chipName:  chipName,
		offset:    offset,
		activeLow: activeLow,
		callback:  callback,
	}
}

func (s *ContactSensor) Initialize() error {
	s.logger.Infof("Initializing contact sensor on %s line %d", s.chipName, s.offset)

	chip, err := gpiocdev.NewChip(s.chipName)
	if err != nil {
		return fmt.Errorf("failed to open GPIO chip %s: %w", s.chipName, err)
	}
	s.chip = chip

	line, err := chip.RequestLine(s.offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(debouncePeriod),
		gpiocdev.WithEventHandler(s.handleEdge),
		gpiocdev.WithConsumer("garage-door-service"))
	if err != nil {
		chip.Close()
		s.chip = nil
		return fmt.Errorf("failed to request GPIO line %d: %w", s.offset, err)
	}
	s.line = line

	return nil
}

func (s *ContactSensor) handleEdge(evt gpiocdev.LineEvent) {
	raw := evt.Type == gpiocdev.LineEventRisingEdge
	open := s.logical(raw)

	s.logger.Debugf("Contact edge: raw=%v open=%v", raw, open)
	if s.callback != nil {
		if err := s.callback(open); err != nil {
			s.logger.Warnf("Error in contact callback: %v", err)
		}
	}
}

// Read returns the current debounced contact state.
func (s *ContactSensor) Read() (bool, error) {
	if s.line == nil {
		return false, fmt.Errorf("contact sensor not initialized")
	}
	raw, err := s.line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read contact line: %w", err)
	}
	return s.logical(raw == 1), nil
}

func (s *ContactSensor) logical(raw bool) bool {
	if s.activeLow {
		return !raw
	}
	return raw
}

func (s *ContactSensor) Close() {
	if s.line != nil {
		s.line.Close()
		s.line = nil
	}
	if s.chip != nil {
		s.chip.Close()
		s.chip = nil
	}
	s.logger.Infof("Contact sensor closed")
}
