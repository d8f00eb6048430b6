package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ptcan/msdflash/pkg/flasher"
	"golang.org/x/term"
)

// confirm asks a yes/no question on the terminal. Non-interactive runs
// refuse, so a destructive command cannot slip through a pipeline.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("stdin is not a terminal, refusing (pass --yes to override)")
		return false
	}
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// progressPrinter renders progress ticks as one line updated in place.
func progressPrinter() func(flasher.Progress) {
	return func(p flasher.Progress) {
		if p.Total <= 0 {
			return
		}
		pct := float64(p.Done) * 100 / float64(p.Total)
		fmt.Printf("\r%-7s %-5s %6.1f%%  0x%06X", p.Stage, p.Region, pct, p.Addr)
		if p.Done >= p.Total {
			fmt.Println()
		}
	}
}
