package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ptcan/msdflash/pkg/debug"
	"github.com/spf13/cobra"
)

var (
	adapterName string
	portName    string
	baudRate    int
	bitrate     float64
	profileName string
	traceFrames bool
)

var rootCmd = &cobra.Command{
	Use:   "msdflash",
	Short: "Diagnostic and flashing tool for Bosch MSD80/MSD81 DMEs",
	Long: `msdflash talks KWP2000 over powertrain CAN to Bosch MSD80 and MSD81
engine controllers: identification, live telemetry, calibration table
reads, full and CAL-only flashing with read-back verification.

Adapter selection:
  slcan      --adapter slcan --port /dev/ttyUSB0
  socketcan  --adapter socketcan --port can0
  j2534      --adapter j2534 --port op20pt32.dll (Windows)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&adapterName, "adapter", "a", "slcan", "CAN adapter backend")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "device path, CAN interface name or driver DLL")
	rootCmd.PersistentFlags().IntVar(&baudRate, "baud", 0, "serial link speed, serial adapters only")
	rootCmd.PersistentFlags().Float64Var(&bitrate, "bitrate", 0, "CAN bus speed in kbit/s (default from the profile)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "MSD80", "ECU profile")
	rootCmd.PersistentFlags().BoolVar(&traceFrames, "debug", false, "trace raw frames to debug.log")
}

// Execute runs the tool. SIGINT and SIGTERM cancel the command context,
// so a flash in flight runs its abort sequence instead of dying
// mid-write.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer debug.Close()
	return rootCmd.ExecuteContext(ctx)
}
