// Package simulator models the lift control box: a motor with asymmetric
// up/down speeds riding between two hall sensors, a charge contact at the
// bottom, and the "speed"/"set" datagram protocol in front of it.
//
// It implements both actuator.Transport and input.Reader, so tests and the
// bench CLI can run the full controller against it in-process, and it can
// serve the protocol over a real UDP socket.
package simulator

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Height is the travel between the bottom and top sensors in meters.
	Height float64
	// UpSpeed and DownSpeed are the travel rates at full speed (255) in m/s.
	// They differ on the real winch; the motor works against gravity going up.
	UpSpeed   float64
	DownSpeed float64
	// StartHeight is the carriage position at power-on.
	StartHeight float64
	// DockAfterBumps is the number of re-seat bumps needed at the bottom
	// before the charge contact closes. 0 docks on first arrival; negative
	// never docks.
	DockAfterBumps int
	// DropEvery drops every Nth acknowledgement when positive, simulating a
	// lossy network.
	DropEvery int

	PinBottom   int
	PinTop      int
	PinCharging int
}

// sensorBand is the trigger zone of the hall sensors in meters: they read
// active while the carriage magnet is within this distance of the travel end.
const sensorBand = 0.002

type Simulator struct {
	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	height   float64
	speed    int
	lastStep time.Time
	pending  []string
	sent     int
	bumps    int
	commands []int
	closed   bool
}

func New(cfg Config) *Simulator {
	return &Simulator{
		cfg:      cfg,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		height:   cfg.StartHeight,
		lastStep: time.Now(),
	}
}

// SetLogger replaces the logger used by ListenAndServe.
func (s *Simulator) SetLogger(log *logrus.Entry) {
	s.log = log
}

// step advances the physics to now using the last commanded speed.
func (s *Simulator) step() {
	now := time.Now()
	dt := now.Sub(s.lastStep).Seconds()
	s.lastStep = now
	switch {
	case s.speed > 0:
		s.height += s.cfg.UpSpeed * dt * float64(s.speed) / 255
	case s.speed < 0:
		s.height -= s.cfg.DownSpeed * dt * float64(-s.speed) / 255
	}
	if s.height < 0 {
		s.height = 0
	}
	if s.height > s.cfg.Height {
		s.height = s.cfg.Height
	}
}

func (s *Simulator) apply(speed int) string {
	s.step()
	if speed > 0 && s.height <= sensorBand {
		// An upward command while seated counts as a re-seat bump.
		s.bumps++
	}
	s.speed = speed
	s.commands = append(s.commands, speed)
	return "set " + strconv.Itoa(speed)
}

// Send implements actuator.Transport.
func (s *Simulator) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("simulator closed")
	}
	resp, dropped, err := s.handle(cmd)
	if err != nil {
		return err
	}
	if !dropped {
		s.pending = append(s.pending, resp)
	}
	return nil
}

// handle executes one command and reports whether its acknowledgement falls
// on a drop slot. Every accepted command counts against DropEvery no matter
// which transport carried it.
func (s *Simulator) handle(cmd string) (resp string, dropped bool, err error) {
	fields := strings.Fields(cmd)
	if len(fields) != 2 || fields[0] != "speed" {
		return "", false, errors.Errorf("unrecognized command %q", cmd)
	}
	speed, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", false, errors.Wrapf(err, "parsing %q", cmd)
	}
	resp = s.apply(speed)
	s.sent++
	dropped = s.cfg.DropEvery > 0 && s.sent%s.cfg.DropEvery == 0
	return resp, dropped, nil
}

// Recv implements actuator.Transport.
func (s *Simulator) Recv() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	if len(s.pending) == 0 {
		return "", false, nil
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	return line, true, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Read implements input.Reader for the simulated hall sensors and charge
// contact.
func (s *Simulator) Read(pin int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	switch pin {
	case s.cfg.PinBottom:
		return s.height <= sensorBand, nil
	case s.cfg.PinTop:
		return s.height >= s.cfg.Height-sensorBand, nil
	case s.cfg.PinCharging:
		if s.cfg.DockAfterBumps < 0 {
			return false, nil
		}
		return s.height <= sensorBand && s.bumps >= s.cfg.DockAfterBumps, nil
	}
	return false, errors.Errorf("unknown pin %d", pin)
}

// Height reports the simulated carriage position.
func (s *Simulator) Height() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	return s.height
}

// Bumps reports how many upward commands were received while seated at the
// bottom, i.e. re-seat attempts.
func (s *Simulator) Bumps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumps
}

// Commands returns every speed command received so far.
func (s *Simulator) Commands() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.commands...)
}

// ListenAndServe answers the datagram protocol on pc until ctx is canceled.
func (s *Simulator) ListenAndServe(ctx context.Context, pc net.PacketConn) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return pc.Close()
	})
	g.Go(func() error {
		buf := make([]byte, 1024)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return err
			}
			s.mu.Lock()
			resp, dropped, err := s.handle(string(buf[:n]))
			s.mu.Unlock()
			if err != nil {
				s.log.Warnf("sim: %v", err)
				continue
			}
			if dropped {
				continue
			}
			if _, err := pc.WriteTo([]byte(resp), addr); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}
