package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/flasher"
	"github.com/ptcan/msdflash/pkg/image"
	"github.com/spf13/cobra"
)

var (
	flashInput   string
	flashCALOnly bool
	flashVIN     string
	flashBackup  string
	flashYes     bool
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Program an image into the ECU",
	Long: `Programs a full image, or with --cal-only just the calibration area,
and verifies the result by reading it back. The image's checksum words
are validated before any frame goes out.

A full flash erases everything outside the boot sector first; blocks
already written are gone after a failure and a new attempt restarts
from the start of the span. Ctrl-C runs the abort sequence (transfer
exit, then ECU reset) instead of leaving the unit mid-write.`,
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&flashInput, "input", "i", "", "image file to program")
	flashCmd.Flags().BoolVar(&flashCALOnly, "cal-only", false, "program only the CAL region")
	flashCmd.Flags().StringVar(&flashVIN, "vin", "", "patch this VIN into CAL before programming")
	flashCmd.Flags().StringVar(&flashBackup, "backup", "", "dump the current flash to this file first")
	flashCmd.Flags().BoolVarP(&flashYes, "yes", "y", false, "skip the confirmation prompt")
	flashCmd.MarkFlagRequired("input")
}

func runFlash(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	profile, err := ecu.Get(profileName)
	if err != nil {
		return err
	}
	img, err := image.Load(flashInput, profile.FlashSize)
	if err != nil {
		return err
	}
	if flashVIN != "" {
		cal, err := profile.Region("CAL")
		if err != nil {
			return err
		}
		addr, err := img.PatchVIN(flashVIN, cal.Addr, cal.Size, profile.Layout)
		if err != nil {
			return err
		}
		fmt.Printf("Patched VIN %s at 0x%06X, checksum rebalanced\n", flashVIN, addr)
	}

	var regions []ecu.Region
	what := "the full image"
	if flashCALOnly {
		cal, err := profile.Region("CAL")
		if err != nil {
			return err
		}
		regions = append(regions, cal)
		what = "the CAL region"
	}
	job, err := flasher.NewJob(img, profile, regions...)
	if err != nil {
		return err
	}

	if !flashYes && !confirm(fmt.Sprintf("Write %s of %s to the %s", what, flashInput, profile.Name)) {
		return errors.New("flash not confirmed")
	}

	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	fl, err := flasher.New(l.client, l.profile, flasher.Config{
		OnMessage:  func(s string) { fmt.Println(s) },
		OnProgress: progressPrinter(),
		ConfirmVerifyRetry: func() bool {
			return flashYes || confirm("Verification failed once, run a second pass")
		},
	})
	if err != nil {
		return err
	}

	if flashBackup != "" {
		out, err := os.Create(flashBackup)
		if err != nil {
			return err
		}
		if err := fl.Backup(ctx, out); err != nil {
			out.Close()
			os.Remove(flashBackup)
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Println("Backup written to", flashBackup)
	}

	if err := fl.Flash(ctx, job); err != nil {
		return err
	}
	if err := l.client.EcuReset(ctx); err != nil {
		return fmt.Errorf("reset after flash: %w", err)
	}
	fmt.Println("ECU reset, new image active")
	return nil
}
