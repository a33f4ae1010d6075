package lift

import (
	"context"

	"github.com/fieldstation/lift_interface/actuator"
)

// dock re-seats the lift's bottom connector on the charging contact. Each
// retry is a brief upward bump followed by a downward bump back onto the
// contact. Exhausting the retries is logged, never fatal: a failed dock must
// not block later scheduled measurements.
func (c *Controller) dock(ctx context.Context) error {
	c.log.Info("docking lift")
	if err := c.sleep(ctx, c.cfg.DockingDelay); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		charging, err := c.inputs.Read(c.cfg.ChargingPin)
		if err != nil {
			c.log.Warnf("reading charge sense: %v", err)
		}
		if charging {
			c.log.Infof("lift docked after %d re-seat attempts", attempt)
			c.record("lift.dock", map[string]interface{}{"attempts": attempt, "charging": true})
			return nil
		}
		if attempt >= c.cfg.DockingRetries {
			c.log.Warnf("lift not charging after %d re-seat attempts", attempt)
			c.record("lift.dock", map[string]interface{}{"attempts": attempt, "charging": false})
			return nil
		}
		c.log.Infof("not charging, re-seating connector (%d/%d)", attempt+1, c.cfg.DockingRetries)
		if _, _, err := c.move(ctx, actuator.MaxSpeed, c.cfg.BumpDuration); err != nil {
			return err
		}
		// The downward bump ends on the bottom sensor; the bound only guards
		// against a failed sensor.
		if _, _, err := c.move(ctx, -actuator.MaxSpeed, 2*c.cfg.BumpDuration+c.cfg.SafetyMargin); err != nil {
			return err
		}
		if err := c.sleep(ctx, c.cfg.DockingDelay); err != nil {
			return err
		}
	}
}
