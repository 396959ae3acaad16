package main

import (
	"os"

	"github.com/kyupark/freegpt/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
