// liftctl operates the station's sensor lift: calibration, manual moves,
// docking, input checks, and a bench simulator of the motor controller.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbosity  int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "liftctl",
		Short:         "Operate the sensor lift",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			switch {
			case verbosity >= 2:
				logrus.SetLevel(logrus.TraceLevel)
			case verbosity == 1:
				logrus.SetLevel(logrus.DebugLevel)
			default:
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/boot/lift.yml", "station config file (yml)")
	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")

	cmd.AddCommand(
		newCalibrateCmd(),
		newMoveCmd(),
		newDockCmd(),
		newStatusCmd(),
		newInputsCmd(),
		newSimCmd(),
	)
	return cmd
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
