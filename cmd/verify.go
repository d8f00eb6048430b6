package cmd

import (
	"fmt"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/flasher"
	"github.com/ptcan/msdflash/pkg/image"
	"github.com/spf13/cobra"
)

var (
	verifyInput   string
	verifyCALOnly bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the ECU flash contents against an image file",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVarP(&verifyInput, "input", "i", "", "image file to compare against")
	verifyCmd.Flags().BoolVar(&verifyCALOnly, "cal-only", false, "compare only the CAL region")
	verifyCmd.MarkFlagRequired("input")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	img, err := image.Load(verifyInput, l.profile.FlashSize)
	if err != nil {
		return err
	}
	var regions []ecu.Region
	if verifyCALOnly {
		cal, err := l.profile.Region("CAL")
		if err != nil {
			return err
		}
		regions = append(regions, cal)
	}

	fl, err := flasher.New(l.client, l.profile, flasher.Config{
		OnMessage:  func(s string) { fmt.Println(s) },
		OnProgress: progressPrinter(),
	})
	if err != nil {
		return err
	}
	if err := fl.Verify(ctx, img, regions...); err != nil {
		return err
	}
	fmt.Println("Verify OK, ECU matches", verifyInput)
	return nil
}
