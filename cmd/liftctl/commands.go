package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fieldstation/lift_interface/lift"
)

// withSession brackets fn between Connect and Disconnect. Disconnect runs on
// every path, including a failed handshake, so ownership is always released.
func withSession(fn func(ctx context.Context, c *lift.Controller) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, cleanup, err := cfg.controller()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	connectErr := c.Connect(ctx)
	if connectErr != nil {
		c.Disconnect()
		return connectErr
	}
	defer c.Disconnect()
	return fn(ctx, c)
}

func newCalibrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Measure travel times and dock",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(func(ctx context.Context, c *lift.Controller) error {
				if err := c.Calibrate(ctx); err != nil {
					return err
				}
				up, down := c.TravelTimes()
				fmt.Printf("time to top: %v\ntime to bottom: %v\n", up.Round(time.Millisecond), down.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <height-m>",
		Short: "Move the lift to a height in meters",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			target, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return err
			}
			return withSession(func(ctx context.Context, c *lift.Controller) error {
				height, err := c.MoveTo(ctx, target)
				if err != nil {
					return err
				}
				fmt.Printf("height: %.2fm\n", height)
				return nil
			})
		},
	}
}

func newDockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dock",
		Short: "Return the lift to the bottom and dock on the charger",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(func(ctx context.Context, c *lift.Controller) error {
				_, err := c.MoveTo(ctx, 0)
				return err
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the lift's digital inputs",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			inputs, cleanup, err := cfg.inputs()
			if err != nil {
				return err
			}
			defer cleanup()
			for _, in := range []struct {
				name string
				pin  int
			}{
				{"hall bottom", cfg.Lift.HallBottom},
				{"hall top", cfg.Lift.HallTop},
				{"charging", cfg.Lift.ChargingPin},
			} {
				level, err := inputs.Read(in.pin)
				if err != nil {
					return err
				}
				fmt.Printf("%-12s (pin %d): %v\n", in.name, in.pin, level)
			}
			return nil
		},
	}
}

// newInputsCmd is the interactive hall-sensor check used during station
// assembly: approach each sensor with a magnet, then remove it.
func newInputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inputs",
		Short: "Digital input tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Interactively verify the hall sensors",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			inputs, cleanup, err := cfg.inputs()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()

			steps := []struct {
				prompt string
				pin    int
				want   bool
			}{
				{"approach the bottom sensor with a magnet", cfg.Lift.HallBottom, true},
				{"remove the magnet from the bottom sensor", cfg.Lift.HallBottom, false},
				{"approach the top sensor with a magnet", cfg.Lift.HallTop, true},
				{"remove the magnet from the top sensor", cfg.Lift.HallTop, false},
			}
			for i, step := range steps {
				for {
					level, err := inputs.Read(step.pin)
					if err != nil {
						return err
					}
					if level == step.want {
						break
					}
					logrus.Warnf("hall sensor test (%d/%d): %s...", i+1, len(steps), step.prompt)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(time.Second):
					}
				}
			}
			logrus.Info("hall sensor test finished")
			return nil
		},
	})
	return cmd
}
