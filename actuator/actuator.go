// Package actuator implements the datagram protocol spoken by the lift's
// motor controller. Requests are "speed <v>" with v in [-255, 255]; the
// controller echoes "set <v>" with the speed it believes it has applied.
// There are no sequence numbers; the most recently drained acknowledgement
// wins.
package actuator

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fieldstation/lift_interface/input"
)

// MaxSpeed is the magnitude of a full-speed command.
const MaxSpeed = 255

// ErrLimitReached reports that a speed command was refused because the
// corresponding hall sensor is active. It is the routine way a movement
// episode ends, not a communication failure.
var ErrLimitReached = errors.New("actuator: limit sensor active")

// CommError covers send failures, malformed responses, and acknowledgement
// timeouts.
type CommError struct {
	Err error
}

func (e *CommError) Error() string { return "actuator: " + e.Err.Error() }
func (e *CommError) Unwrap() error { return e.Err }

func commErrorf(format string, args ...interface{}) error {
	return &CommError{Err: errors.Errorf(format, args...)}
}

// A Transport carries one command or response per datagram. Recv never
// blocks: ok is false when no response is pending.
type Transport interface {
	Send(cmd string) error
	Recv() (line string, ok bool, err error)
	Close() error
}

// A Link is the protocol client for one connection session. It consults the
// hall sensors before every send so the motor is never commanded into an
// active limit.
type Link struct {
	transport Transport
	inputs    input.Reader
	bottomPin int
	topPin    int
	log       *logrus.Entry

	mu          sync.Mutex
	lastRequest int
	lastAck     int
	lastAckTime time.Time
}

func NewLink(transport Transport, inputs input.Reader, bottomPin, topPin int, log *logrus.Entry) *Link {
	return &Link{
		transport: transport,
		inputs:    inputs,
		bottomPin: bottomPin,
		topPin:    topPin,
		log:       log,
	}
}

func (l *Link) checkLimits(speed int) error {
	if speed > 0 {
		top, err := l.inputs.Read(l.topPin)
		if err != nil {
			return &CommError{Err: errors.Wrap(err, "reading top sensor")}
		}
		if top {
			return errors.Wrap(ErrLimitReached, "cannot move upwards")
		}
	}
	if speed < 0 {
		bottom, err := l.inputs.Read(l.bottomPin)
		if err != nil {
			return &CommError{Err: errors.Wrap(err, "reading bottom sensor")}
		}
		if bottom {
			return errors.Wrap(ErrLimitReached, "cannot move downwards")
		}
	}
	return nil
}

// SendSpeed transmits one speed command. It returns ErrLimitReached (wrapped)
// when the move is refused by a limit sensor, or a *CommError when the
// transport rejects the send.
func (l *Link) SendSpeed(speed int) error {
	if speed < -MaxSpeed || speed > MaxSpeed {
		return commErrorf("speed %d out of range", speed)
	}
	if err := l.checkLimits(speed); err != nil {
		return err
	}
	l.log.Debugf("sending speed %d", speed)
	if err := l.transport.Send("speed " + strconv.Itoa(speed)); err != nil {
		return &CommError{Err: err}
	}
	l.mu.Lock()
	l.lastRequest = speed
	l.mu.Unlock()
	return nil
}

// Drain consumes every pending acknowledgement. A single tick may have zero,
// one, or several backlogged responses; all must be read to keep the socket
// queue bounded. A response speed that differs from the last request is
// logged, not failed: the motor may lag one tick behind commands.
func (l *Link) Drain() error {
	for {
		line, ok, err := l.transport.Recv()
		if err != nil {
			return &CommError{Err: err}
		}
		if !ok {
			return nil
		}
		ack, err := parseAck(line)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.lastAck = ack
		l.lastAckTime = time.Now()
		request := l.lastRequest
		l.mu.Unlock()
		if ack != request {
			l.log.Warnf("acknowledged speed (%d) does not match requested (%d)", ack, request)
		} else {
			l.log.Debugf("speed %d acknowledged", ack)
		}
	}
}

func parseAck(line string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 2 {
		return 0, commErrorf("malformed response %q", line)
	}
	if fields[0] != "set" {
		return 0, commErrorf("controller responded with command %q", fields[0])
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, commErrorf("malformed speed in response %q", line)
	}
	return v, nil
}

// CheckLiveness fails when no acknowledgement has arrived within timeout of
// the previous one, tracked by receipt time.
func (l *Link) CheckLiveness(timeout time.Duration) error {
	l.mu.Lock()
	last := l.lastAckTime
	l.mu.Unlock()
	if last.IsZero() {
		return commErrorf("no acknowledgement received yet")
	}
	if since := time.Since(last); since > timeout {
		return commErrorf("no acknowledgement for %v", since.Round(time.Millisecond))
	}
	return nil
}

// LastAck returns the most recently acknowledged speed and its receipt time.
// The time is zero before the first acknowledgement.
func (l *Link) LastAck() (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAck, l.lastAckTime
}

func (l *Link) Close() error {
	return l.transport.Close()
}
