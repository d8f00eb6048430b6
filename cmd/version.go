package cmd

import (
	"fmt"
	"runtime"

	"github.com/ptcan/msdflash/pkg/update"
	"github.com/spf13/cobra"
)

// version is stamped at release build time:
//
//	go build -ldflags "-X github.com/ptcan/msdflash/cmd.version=v1.2.3"
var version = "v0.0.0-dev"

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	fmt.Printf("msdflash %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	if !versionCheck {
		return nil
	}
	var c update.Checker
	res, err := c.Check(cmd.Context(), version)
	if err != nil {
		return fmt.Errorf("release check: %w", err)
	}
	if res.UpToDate {
		fmt.Println("You are on the latest release")
		return nil
	}
	fmt.Printf("Release %s is available at %s\n", res.Latest, res.URL)
	return nil
}
