package cmd

import (
	"fmt"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read the ECU identification block",
	Long: `Opens a default diagnostic session and reads the identification
records: VIN, hardware and software references and the part number.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.client.Open(ctx, l.profile.SessionDefault); err != nil {
		return err
	}
	info, err := ecu.ReadInfo(ctx, l.client)
	if err != nil {
		return err
	}
	fmt.Print(info.String())
	if match, err := ecu.Detect(info); err == nil && match.Name != l.profile.Name {
		fmt.Printf("\nIdentification matches profile %s, selected is %s\n", match.Name, l.profile.Name)
	}
	return nil
}
