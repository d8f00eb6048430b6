package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ptcan/msdflash/pkg/telemetry"
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <signal|0xNN>",
	Short: "One-shot read of a telemetry signal or raw record",
	Long: `Reads a single value over the default diagnostic session. The argument
is either a signal name from the profile (see monitor) or a record
identifier in hex; raw records are printed as a hex dump.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.client.Open(ctx, l.profile.SessionDefault); err != nil {
		return err
	}

	if def, err := l.profile.Signal(args[0]); err == nil {
		record, err := l.client.ReadDataByLocalIdentifier(ctx, def.Identifier)
		if err != nil {
			return err
		}
		value, err := def.Decode(record)
		if err != nil {
			return err
		}
		raw, err := def.DecodeRaw(record)
		if err != nil {
			return err
		}
		fmt.Println(telemetry.Value{Name: def.Name, Value: value, Raw: raw, Unit: def.Unit, Time: time.Now()})
		return nil
	}

	ident, err := parseIdent(args[0])
	if err != nil {
		return fmt.Errorf("%q is neither a signal of profile %s nor a record identifier", args[0], l.profile.Name)
	}
	record, err := l.client.ReadDataByLocalIdentifier(ctx, ident)
	if err != nil {
		return err
	}
	fmt.Printf("record 0x%02X: % X\n", ident, record)
	return nil
}

func parseIdent(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	return byte(v), err
}
