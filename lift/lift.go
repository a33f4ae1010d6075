// Package lift drives the sensor lift: a winch that carries the station's
// sensors between two hall sensors, controlled over a small UDP speed
// protocol. The controller owns the device link, the dead-reckoned position
// estimate, and the calibration state; everything else in the station goes
// through its methods.
package lift

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/fieldstation/lift_interface/actuator"
	"github.com/fieldstation/lift_interface/input"
	"github.com/fieldstation/lift_interface/telemetry"
	"github.com/fieldstation/lift_interface/wifi"
)

// A DialFunc opens the transport to the motor controller.
type DialFunc func() (actuator.Transport, error)

// Deps are the controller's collaborators. Inputs is required; the rest have
// working defaults (UDP dial from the config address, no network manager, no
// telemetry, the standard logger).
type Deps struct {
	Inputs   input.Reader
	Network  wifi.Manager
	Dial     DialFunc
	Recorder telemetry.Recorder
	Log      *logrus.Entry
}

// Controller is the single owner of the physical lift. Exactly one session
// may exist at a time; Connect blocks until the previous holder disconnects.
type Controller struct {
	cfg      Config
	inputs   input.Reader
	network  wifi.Manager
	dial     DialFunc
	recorder telemetry.Recorder
	log      *logrus.Entry

	guard *semaphore.Weighted

	mu          sync.Mutex
	held        bool
	networkUp   bool
	link        *actuator.Link
	timeUp      time.Duration
	timeDown    time.Duration
	height      float64
	heightValid bool
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Inputs == nil {
		return nil, errors.New("lift: digital inputs are required")
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{
		cfg:      cfg,
		inputs:   deps.Inputs,
		network:  deps.Network,
		dial:     deps.Dial,
		recorder: deps.Recorder,
		log:      log,
		guard:    semaphore.NewWeighted(1),
	}
	if c.dial == nil {
		c.dial = func() (actuator.Transport, error) {
			return actuator.DialUDP(cfg.Address)
		}
	}
	return c, nil
}

// Connect acquires exclusive ownership of the lift, joins its network, and
// performs the zero-speed handshake. On a handshake failure ownership stays
// held: callers must pair every Connect, successful or not, with exactly one
// Disconnect.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.guard.Acquire(ctx, 1); err != nil {
		return err
	}
	c.mu.Lock()
	c.held = true
	c.mu.Unlock()

	c.log.Infof("connecting to %q", c.cfg.Network.SSID)
	if c.network != nil {
		if err := c.network.Connect(c.cfg.Network); err != nil {
			c.mu.Lock()
			c.held = false
			c.mu.Unlock()
			c.guard.Release(1)
			return err
		}
		c.mu.Lock()
		c.networkUp = true
		c.mu.Unlock()
	}

	transport, err := c.dial()
	if err != nil {
		return &actuator.CommError{Err: err}
	}
	link := actuator.NewLink(transport, c.inputs, c.cfg.HallBottom, c.cfg.HallTop, c.log)
	c.mu.Lock()
	c.link = link
	c.mu.Unlock()

	if err := c.handshake(ctx, link); err != nil {
		return err
	}
	c.log.Infof("connection to %q established", c.cfg.Network.SSID)
	return nil
}

// handshake sends zero-speed commands until the controller acknowledges one
// or the connect timeout elapses.
func (c *Controller) handshake(ctx context.Context, link *actuator.Link) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	for {
		if err := link.SendSpeed(0); err != nil {
			c.log.Warnf("handshake: %v", err)
		}
		if err := link.Drain(); err != nil {
			c.log.Warnf("handshake: %v", err)
		}
		if _, at := link.LastAck(); !at.IsZero() {
			return nil
		}
		if time.Now().After(deadline) {
			return &actuator.CommError{Err: errors.Errorf("no handshake response within %v", c.cfg.ConnectTimeout)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.TickInterval):
		}
	}
}

// Disconnect closes the link, leaves the lift network, and releases
// ownership. It tolerates the partially-open state left by a failed Connect.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		c.log.Warn("disconnect without a connected session")
		return nil
	}
	link := c.link
	networkUp := c.networkUp
	c.link = nil
	c.networkUp = false
	c.held = false
	c.mu.Unlock()
	defer c.guard.Release(1)

	c.log.Info("disconnecting from lift")
	var firstErr error
	if link != nil {
		if err := link.Close(); err != nil {
			firstErr = err
		}
	}
	if c.network != nil && networkUp {
		if err := c.network.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Controller) session() (*actuator.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil, errors.New("lift: not connected")
	}
	return c.link, nil
}

// Height returns the current estimated height. valid is false until the
// first calibration establishes a reference.
func (c *Controller) Height() (height float64, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.heightValid
}

// Calibrated reports whether travel times have been measured.
func (c *Controller) Calibrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeUp > 0 && c.timeDown > 0
}

// TravelTimes returns the calibrated full-travel durations.
func (c *Controller) TravelTimes() (up, down time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeUp, c.timeDown
}

func (c *Controller) setHeight(h float64) {
	c.mu.Lock()
	c.height = h
	c.heightValid = true
	c.mu.Unlock()
	c.record("lift.height", map[string]interface{}{"height_m": h})
}

// upSpeed and downSpeed are the calibrated travel rates in m/s.
func (c *Controller) upSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MaxHeight / c.timeUp.Seconds()
}

func (c *Controller) downSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MaxHeight / c.timeDown.Seconds()
}

func (c *Controller) record(measurement string, fields map[string]interface{}) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordPoint(measurement, fields)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
