package main

import (
	"os"

	"github.com/replicate/rget/cmd"
	"github.com/replicate/rget/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
