package main

import (
	"os"

	"github.com/Dicklesworthstone/licrm/internal/cli"
	"github.com/Dicklesworthstone/licrm/internal/output"
)

func main() {
	if err := cli.Execute(); err != nil {
		_ = output.PrintError(err, cli.JSONMode())
		os.Exit(1)
	}
}
