package main

import (
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fieldstation/lift_interface/actuator/simulator"
)

// newSimCmd serves a simulated motor controller over UDP, for exercising the
// controller and operator tooling without the physical winch.
func newSimCmd() *cobra.Command {
	var (
		listen    string
		height    float64
		upSpeed   float64
		downSpeed float64
		dropEvery int
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve a simulated motor controller over UDP",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sim := simulator.New(simulator.Config{
				Height:      height,
				UpSpeed:     upSpeed,
				DownSpeed:   downSpeed,
				DropEvery:   dropEvery,
				PinBottom:   cfg.Lift.HallBottom,
				PinTop:      cfg.Lift.HallTop,
				PinCharging: cfg.Lift.ChargingPin,
			})
			sim.SetLogger(logrus.WithField("component", "sim"))
			pc, err := net.ListenPacket("udp", listen)
			if err != nil {
				return err
			}
			logrus.Infof("simulated lift on %s (%.1fm, up %.2fm/s, down %.2fm/s)",
				pc.LocalAddr(), height, upSpeed, downSpeed)

			ctx, cancel := signalContext()
			defer cancel()
			return sim.ListenAndServe(ctx, pc)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":35037", "UDP listen address")
	cmd.Flags().Float64Var(&height, "height", 10, "travel height in meters")
	cmd.Flags().Float64Var(&upSpeed, "up-speed", 0.12, "full-speed upward rate in m/s")
	cmd.Flags().Float64Var(&downSpeed, "down-speed", 0.18, "full-speed downward rate in m/s")
	cmd.Flags().IntVar(&dropEvery, "drop-every", 0, "drop every Nth acknowledgement")
	return cmd
}
