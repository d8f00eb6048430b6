package main

import (
	"log"
	"os"

	"github.com/ptcan/msdflash/cmd"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
