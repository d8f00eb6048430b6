package cmd

import (
	"fmt"
	"sort"

	"github.com/ptcan/msdflash/pkg/calib"
	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/image"
	"github.com/spf13/cobra"
)

var mapsInput string

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "Calibration table tools",
}

var mapsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known tables of the profile",
	RunE:  runMapsList,
}

var mapsReadCmd = &cobra.Command{
	Use:   "read <table>",
	Short: "Decode one table from an image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runMapsRead,
}

func init() {
	rootCmd.AddCommand(mapsCmd)
	mapsCmd.AddCommand(mapsListCmd, mapsReadCmd)
	mapsReadCmd.Flags().StringVarP(&mapsInput, "input", "i", "", "image file to read from")
	mapsReadCmd.MarkFlagRequired("input")
}

func runMapsList(_ *cobra.Command, _ []string) error {
	tables, err := calib.For(profileName)
	if err != nil {
		return err
	}
	sort.Slice(tables, func(a, b int) bool {
		if tables[a].Category != tables[b].Category {
			return tables[a].Category < tables[b].Category
		}
		return tables[a].Name < tables[b].Name
	})
	category := ""
	for _, t := range tables {
		if t.Category != category {
			category = t.Category
			fmt.Printf("%s:\n", category)
		}
		fmt.Printf("  %s\n", t.String())
		if t.Description != "" {
			fmt.Printf("    %s\n", t.Description)
		}
	}
	return nil
}

func runMapsRead(_ *cobra.Command, args []string) error {
	profile, err := ecu.Get(profileName)
	if err != nil {
		return err
	}
	table, err := calib.Find(profileName, args[0])
	if err != nil {
		return err
	}
	img, err := image.Load(mapsInput, profile.FlashSize)
	if err != nil {
		return err
	}
	rows, err := table.Read(img)
	if err != nil {
		return err
	}
	printTable(table, img, rows)
	return nil
}

// printTable renders a table with its axis breakpoints around the cell
// grid, x across and y down forms.
func printTable(t calib.Table, img *image.Image, rows [][]float64) {
	fmt.Println(t.String())
	var xs, ys []float64
	if t.XAxis != nil {
		if v, err := t.XAxis.Values(img); err == nil {
			xs = v
		}
	}
	if t.YAxis != nil {
		if v, err := t.YAxis.Values(img); err == nil {
			ys = v
		}
	}
	if xs != nil {
		fmt.Printf("%10s", "")
		for _, x := range xs {
			fmt.Printf("%10.2f", x)
		}
		fmt.Println()
	}
	for r, row := range rows {
		switch {
		case ys != nil && r < len(ys):
			fmt.Printf("%10.2f", ys[r])
		case xs != nil || ys != nil:
			fmt.Printf("%10s", "")
		}
		for _, cell := range row {
			fmt.Printf("%10.3f", cell)
		}
		fmt.Println()
	}
}
