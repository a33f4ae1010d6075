package lift

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fieldstation/lift_interface/actuator"
	"github.com/fieldstation/lift_interface/actuator/simulator"
	"github.com/fieldstation/lift_interface/input"
	"github.com/fieldstation/lift_interface/wifi"
)

const (
	pinBottom   = 0
	pinTop      = 1
	pinCharging = 2
)

func testConfig() Config {
	return Config{
		MaxHeight:       0.5,
		Address:         "127.0.0.1:35037",
		HallBottom:      pinBottom,
		HallTop:         pinTop,
		ChargingPin:     pinCharging,
		TickInterval:    5 * time.Millisecond,
		ResponseTimeout: 100 * time.Millisecond,
		SafetyMargin:    200 * time.Millisecond,
		DockingRetries:  3,
		DockingDelay:    5 * time.Millisecond,
		BumpDuration:    10 * time.Millisecond,
		ConnectTimeout:  200 * time.Millisecond,
	}
}

// simConfig models a 0.5m lift that climbs at 2m/s and descends at 1m/s, so
// a calibration run measures roughly 250ms up and 500ms down.
func simConfig() simulator.Config {
	return simulator.Config{
		Height:      0.5,
		UpSpeed:     2.0,
		DownSpeed:   1.0,
		PinBottom:   pinBottom,
		PinTop:      pinTop,
		PinCharging: pinCharging,
	}
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func newTestController(t *testing.T, cfg Config, transport actuator.Transport, inputs input.Reader, network wifi.Manager) *Controller {
	t.Helper()
	c, err := New(cfg, Deps{
		Inputs:  inputs,
		Network: network,
		Dial:    func() (actuator.Transport, error) { return transport, nil },
		Log:     quietLog(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// setCalibrated injects travel times matching simConfig, as if a calibration
// run had completed.
func setCalibrated(c *Controller, height float64) {
	c.mu.Lock()
	c.timeUp = 250 * time.Millisecond
	c.timeDown = 500 * time.Millisecond
	c.height = height
	c.heightValid = true
	c.mu.Unlock()
}

func connect(t *testing.T, c *Controller) context.Context {
	t.Helper()
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return ctx
}

func TestCalibrationBounds(t *testing.T) {
	scfg := simConfig()
	scfg.StartHeight = 0.2
	sim := simulator.New(scfg)
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)

	if err := c.Calibrate(ctx); err != nil {
		t.Fatalf("Calibrate() = %v", err)
	}
	up, down := c.TravelTimes()
	const tolerance = 60 * time.Millisecond
	if want := 250 * time.Millisecond; up < want-tolerance || up > want+tolerance {
		t.Errorf("time to top = %v, want %v ± %v", up, want, tolerance)
	}
	if want := 500 * time.Millisecond; down < want-tolerance || down > want+tolerance {
		t.Errorf("time to bottom = %v, want %v ± %v", down, want, tolerance)
	}
	if height, valid := c.Height(); !valid || height != 0 {
		t.Errorf("height after calibration = %v (valid %v), want 0", height, valid)
	}
	if charging, _ := sim.Read(pinCharging); !charging {
		t.Error("lift not docked after calibration")
	}
}

func TestMoveToIdempotent(t *testing.T) {
	sim := simulator.New(simConfig())
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)
	setCalibrated(c, 0)

	height, err := c.MoveTo(ctx, 0.25)
	if err != nil {
		t.Fatalf("MoveTo(0.25) = %v", err)
	}
	if height != 0.25 {
		t.Errorf("MoveTo(0.25) = %v, want 0.25", height)
	}
	commands := len(sim.Commands())

	height, err = c.MoveTo(ctx, 0.25)
	if err != nil {
		t.Fatalf("second MoveTo(0.25) = %v", err)
	}
	if height != 0.25 {
		t.Errorf("second MoveTo(0.25) = %v, want 0.25", height)
	}
	if got := len(sim.Commands()); got != commands {
		t.Errorf("second MoveTo issued %d motor commands, want none", got-commands)
	}
}

// staticInputs pins every input to a fixed level.
type staticInputs map[int]bool

func (s staticInputs) Read(pin int) (bool, error) { return s[pin], nil }

func TestLimitAuthority(t *testing.T) {
	sim := simulator.New(simConfig())
	inputs := staticInputs{pinTop: true}
	c := newTestController(t, testConfig(), sim, inputs, nil)
	ctx := connect(t, c)
	setCalibrated(c, 0)

	start := time.Now()
	height, err := c.MoveTo(ctx, 0.25)
	if err != nil {
		t.Fatalf("MoveTo(0.25) = %v", err)
	}
	if height != 0.5 {
		t.Errorf("MoveTo with top limit active = %v, want estimate corrected to 0.5", height)
	}
	// The episode had a 125ms dead-reckoning budget; the limit must end it
	// without waiting it out.
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("limit stop took %v", elapsed)
	}
	for _, cmd := range sim.Commands() {
		if cmd > 0 {
			t.Fatalf("positive speed %d commanded into an active top limit", cmd)
		}
	}
}

func TestTimeoutTolerance(t *testing.T) {
	scfg := simConfig()
	scfg.DropEvery = 2
	sim := simulator.New(scfg)
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)
	setCalibrated(c, 0)

	height, err := c.MoveTo(ctx, 0.25)
	if err != nil {
		t.Fatalf("MoveTo with lossy link = %v", err)
	}
	if height != 0.25 {
		t.Errorf("MoveTo with lossy link = %v, want 0.25", height)
	}
}

type fakeNetwork struct {
	connects    int
	disconnects int
}

func (f *fakeNetwork) Connect(wifi.Network) error { f.connects++; return nil }
func (f *fakeNetwork) Disconnect() error          { f.disconnects++; return nil }

func TestConnectMutualExclusion(t *testing.T) {
	sim := simulator.New(simConfig())
	network := &fakeNetwork{}
	c := newTestController(t, testConfig(), sim, sim, network)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	second := make(chan time.Time, 1)
	go func() {
		c.Connect(ctx)
		granted := time.Now()
		c.Disconnect()
		second <- granted
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-second:
		t.Fatal("second Connect did not block while the first session was held")
	default:
	}
	released := time.Now()
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
	if granted := <-second; granted.Before(released) {
		t.Errorf("second Connect granted at %v, before first Disconnect at %v", granted, released)
	}
	if network.connects != 2 || network.disconnects != 2 {
		t.Errorf("network joins/leaves = %d/%d, want 2/2", network.connects, network.disconnects)
	}
}

func TestHandshakeFailureKeepsOwnership(t *testing.T) {
	scfg := simConfig()
	scfg.DropEvery = 1 // every acknowledgement lost
	sim := simulator.New(scfg)
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	c := newTestController(t, cfg, sim, sim, nil)

	err := c.Connect(context.Background())
	var comm *actuator.CommError
	if !errors.As(err, &comm) {
		t.Fatalf("Connect() = %v, want CommError", err)
	}
	if c.guard.TryAcquire(1) {
		t.Fatal("ownership released after failed handshake; must stay held until Disconnect")
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
	if !c.guard.TryAcquire(1) {
		t.Fatal("ownership not released by Disconnect")
	}
	c.guard.Release(1)
}

func TestDockRetryBound(t *testing.T) {
	scfg := simConfig()
	scfg.DockAfterBumps = -1 // charge contact never closes
	sim := simulator.New(scfg)
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)
	setCalibrated(c, 0)

	if err := c.dock(ctx); err != nil {
		t.Fatalf("dock() = %v, want retry exhaustion to be non-fatal", err)
	}
	if got := sim.Bumps(); got != 3 {
		t.Errorf("dock performed %d re-seat attempts, want 3", got)
	}
}

func TestDockSucceedsAfterReseat(t *testing.T) {
	scfg := simConfig()
	scfg.DockAfterBumps = 1
	sim := simulator.New(scfg)
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)
	setCalibrated(c, 0)

	if err := c.dock(ctx); err != nil {
		t.Fatalf("dock() = %v", err)
	}
	if got := sim.Bumps(); got != 1 {
		t.Errorf("dock performed %d re-seat attempts, want 1", got)
	}
	if charging, _ := sim.Read(pinCharging); !charging {
		t.Error("lift not charging after dock")
	}
}

func TestDeadReckoningRoundTrip(t *testing.T) {
	sim := simulator.New(simConfig())
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)

	if err := c.Calibrate(ctx); err != nil {
		t.Fatalf("Calibrate() = %v", err)
	}
	const tolerance = 0.05
	for _, target := range []float64{0.25, 0.5, 0.25} {
		estimate, err := c.MoveTo(ctx, target)
		if err != nil {
			t.Fatalf("MoveTo(%v) = %v", target, err)
		}
		if actual := sim.Height(); estimate < actual-tolerance || estimate > actual+tolerance {
			t.Errorf("MoveTo(%v): estimate %v, actual %v", target, estimate, actual)
		}
	}
}

func TestMoveToCalibratesImplicitly(t *testing.T) {
	sim := simulator.New(simConfig())
	c := newTestController(t, testConfig(), sim, sim, nil)
	ctx := connect(t, c)

	height, err := c.MoveTo(ctx, 0.25)
	if err != nil {
		t.Fatalf("MoveTo(0.25) = %v", err)
	}
	if !c.Calibrated() {
		t.Error("MoveTo on an uncalibrated lift did not calibrate")
	}
	if height != 0.25 {
		t.Errorf("MoveTo(0.25) = %v, want 0.25", height)
	}
}

func TestMoveToRequiresConnection(t *testing.T) {
	sim := simulator.New(simConfig())
	c := newTestController(t, testConfig(), sim, sim, nil)
	if _, err := c.MoveTo(context.Background(), 0.25); err == nil {
		t.Error("MoveTo without Connect succeeded")
	}
	if err := c.Calibrate(context.Background()); err == nil {
		t.Error("Calibrate without Connect succeeded")
	}
}
