package lift

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fieldstation/lift_interface/actuator"
)

// Calibrate measures the full-travel time in each direction and derives the
// effective speeds. The motor behaves asymmetrically (it works against
// gravity going up), so the two directions are measured separately. The lift
// ends the run docked at the bottom with height 0.
func (c *Controller) Calibrate(ctx context.Context) error {
	if _, err := c.session(); err != nil {
		return err
	}
	if c.cfg.CalibrationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CalibrationTimeout)
		defer cancel()
	}

	c.log.Info("calibrating lift, starting at the bottom")
	if err := c.clearBottomSensor(ctx); err != nil {
		return err
	}
	if _, _, err := c.move(ctx, -actuator.MaxSpeed, 0); err != nil {
		return err
	}
	c.setHeight(0)

	c.log.Info("moving lift to top")
	up, _, err := c.move(ctx, actuator.MaxSpeed, 0)
	if err != nil {
		return err
	}
	c.setHeight(c.cfg.MaxHeight)

	c.log.Info("going back to bottom")
	down, _, err := c.move(ctx, -actuator.MaxSpeed, 0)
	if err != nil {
		return err
	}
	c.setHeight(0)

	if up <= 0 || down <= 0 {
		return errors.Errorf("calibration measured implausible travel times (up %v, down %v)", up, down)
	}
	c.mu.Lock()
	c.timeUp = up
	c.timeDown = down
	c.mu.Unlock()
	c.log.Infof("calibration finished, %.1fs to the top, %.1fs back to bottom",
		up.Seconds(), down.Seconds())
	c.record("lift.calibration", map[string]interface{}{
		"time_up_s":   up.Seconds(),
		"time_down_s": down.Seconds(),
	})

	return c.dock(ctx)
}

// clearBottomSensor bumps downward while the bottom sensor reads active, so
// a bouncing sensor cannot corrupt the first traversal measurement. A healthy
// sensor at the bottom refuses the bump on its first tick, so attempts are
// bounded rather than looped until clear.
func (c *Controller) clearBottomSensor(ctx context.Context) error {
	for attempt := 0; attempt < c.cfg.DockingRetries; attempt++ {
		bottom, err := c.inputs.Read(c.cfg.HallBottom)
		if err != nil {
			return errors.Wrap(err, "reading bottom sensor")
		}
		if !bottom {
			return nil
		}
		c.log.Debugf("bottom sensor active before calibration, bump %d", attempt+1)
		if _, _, err := c.move(ctx, -actuator.MaxSpeed, c.cfg.BumpDuration); err != nil {
			return err
		}
	}
	bottom, err := c.inputs.Read(c.cfg.HallBottom)
	if err != nil {
		return errors.Wrap(err, "reading bottom sensor")
	}
	if bottom {
		c.log.Warn("bottom sensor still active after clearing bumps; proceeding")
	}
	return nil
}
