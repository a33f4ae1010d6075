package lift

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/fieldstation/lift_interface/actuator"
)

type stopReason int

const (
	stoppedByLimit stopReason = iota
	stoppedByDeadline
)

func (r stopReason) String() string {
	switch r {
	case stoppedByLimit:
		return "limit"
	case stoppedByDeadline:
		return "deadline"
	}
	return "unknown"
}

// move runs one movement episode: the fixed-rate loop of send, drain,
// liveness check, and deadline check. A limit hit is authoritative and ends
// the episode; communication errors are logged and retried next tick, since
// position tracking depends on completing the requested duration. maxDuration
// of zero or less means unbounded (the episode ends only on a limit).
//
// The returned elapsed time is what the caller dead-reckons with, so it is
// measured at the moment the episode's end is detected, before the stop
// command is sent.
func (c *Controller) move(ctx context.Context, speed int, maxDuration time.Duration) (time.Duration, stopReason, error) {
	link, err := c.session()
	if err != nil {
		return 0, stoppedByDeadline, err
	}
	c.log.Infof("moving lift with speed %d", speed)
	start := time.Now()
	var deadline time.Time
	if maxDuration > 0 {
		deadline = start.Add(maxDuration)
	}
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	end := func(reason stopReason) (time.Duration, stopReason, error) {
		elapsed := time.Since(start)
		c.stopMotor(link)
		c.log.Infof("movement ended by %s after %v", reason, elapsed.Round(time.Millisecond))
		c.record("lift.move", map[string]interface{}{
			"speed":   speed,
			"seconds": elapsed.Seconds(),
			"reason":  reason.String(),
		})
		return elapsed, reason, nil
	}

	for {
		if err := link.SendSpeed(speed); err != nil {
			if errors.Is(err, actuator.ErrLimitReached) {
				return end(stoppedByLimit)
			}
			// Transient network loss must not abort the move.
			c.log.Warnf("sending speed: %v", err)
		}
		if err := link.Drain(); err != nil {
			c.log.Warnf("draining acknowledgements: %v", err)
		}
		if err := link.CheckLiveness(c.cfg.ResponseTimeout); err != nil {
			c.log.Warnf("liveness: %v", err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return end(stoppedByDeadline)
		}
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			c.stopMotor(link)
			return elapsed, stoppedByDeadline, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopMotor commands a stop regardless of how the episode ended. Zero speed
// never trips a limit check.
func (c *Controller) stopMotor(link *actuator.Link) {
	if err := link.SendSpeed(0); err != nil {
		c.log.Warnf("stopping motor: %v", err)
	}
}

// MoveTo moves the lift to the target height and returns the corrected
// estimate. Targets at or beyond the travel ends run against the hall
// sensors, bounded by the calibrated travel time plus the safety margin;
// interior targets are dead-reckoned from the calibrated speeds.
func (c *Controller) MoveTo(ctx context.Context, target float64) (float64, error) {
	if _, err := c.session(); err != nil {
		return 0, err
	}
	if !c.Calibrated() {
		c.log.Warn("lift is not calibrated; calibrating before move")
		if err := c.Calibrate(ctx); err != nil {
			return 0, err
		}
	}

	current, valid := c.Height()
	if valid && target == current {
		c.log.Debugf("already at %.2fm", target)
		return current, nil
	}

	c.log.Infof("moving lift to %.2fm", target)
	timeUp, timeDown := c.TravelTimes()
	switch {
	case target >= c.cfg.MaxHeight:
		if _, _, err := c.move(ctx, actuator.MaxSpeed, timeUp+c.cfg.SafetyMargin); err != nil {
			return 0, err
		}
		c.setHeight(c.cfg.MaxHeight)
	case target <= 0:
		if _, _, err := c.move(ctx, -actuator.MaxSpeed, timeDown+c.cfg.SafetyMargin); err != nil {
			return 0, err
		}
		c.setHeight(0)
		if err := c.dock(ctx); err != nil {
			return 0, err
		}
	default:
		distance := target - current
		speed := actuator.MaxSpeed
		rate := c.upSpeed()
		if distance < 0 {
			speed = -actuator.MaxSpeed
			rate = c.downSpeed()
		}
		duration := time.Duration(math.Abs(distance) / rate * float64(time.Second))
		if _, _, err := c.move(ctx, speed, duration); err != nil {
			return 0, err
		}
		// Dead reckoning; not re-measured.
		c.setHeight(target)
	}

	c.correctFromLimits()
	height, _ := c.Height()
	return height, nil
}

// correctFromLimits snaps the estimate to a limit's implied height when the
// hall sensor and the dead-reckoned estimate disagree after a move. The
// sensors are physical ground truth; the discrepancy is still logged since it
// means the calibration is drifting.
func (c *Controller) correctFromLimits() {
	height, valid := c.Height()
	if bottom, err := c.inputs.Read(c.cfg.HallBottom); err != nil {
		c.log.Warnf("reading bottom sensor: %v", err)
	} else if bottom && (!valid || height != 0) {
		c.log.Errorf("bottom sensor active but estimated height is %.2fm; correcting to 0", height)
		c.setHeight(0)
	}
	if top, err := c.inputs.Read(c.cfg.HallTop); err != nil {
		c.log.Warnf("reading top sensor: %v", err)
	} else if top && (!valid || height != c.cfg.MaxHeight) {
		c.log.Errorf("top sensor active but estimated height is %.2fm; correcting to %.2fm", height, c.cfg.MaxHeight)
		c.setHeight(c.cfg.MaxHeight)
	}
}
