package cmd

import (
	"fmt"
	"os"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/flasher"
	"github.com/spf13/cobra"
)

var (
	backupOutput string
	backupRegion string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump the ECU flash to a file",
	Long: `Reads the flash contents out of the unit over a programming session and
writes them to a file. The full dump covers all of flash including the
boot sector; --region limits the dump to one memory region.`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "output file")
	backupCmd.Flags().StringVar(&backupRegion, "region", "", "dump a single region (BOOT, CAL, CODE)")
	backupCmd.MarkFlagRequired("output")
}

func runBackup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	var regions []ecu.Region
	if backupRegion != "" {
		r, err := l.profile.Region(backupRegion)
		if err != nil {
			return err
		}
		regions = append(regions, r)
	}

	fl, err := flasher.New(l.client, l.profile, flasher.Config{
		OnMessage:  func(s string) { fmt.Println(s) },
		OnProgress: progressPrinter(),
	})
	if err != nil {
		return err
	}

	out, err := os.Create(backupOutput)
	if err != nil {
		return err
	}
	if err := fl.Backup(ctx, out, regions...); err != nil {
		out.Close()
		os.Remove(backupOutput)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Println("Backup written to", backupOutput)
	return nil
}
