package main

import (
	"os"

	"github.com/pdfconvert/convertd/cmd/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
