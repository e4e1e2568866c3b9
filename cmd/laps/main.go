package main

import (
	"fmt"
	"os"

	"github.com/systmms/laps/cmd/laps/commands"
	"github.com/systmms/laps/internal/config"
	dserrors "github.com/systmms/laps/internal/errors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(commands.ExitCode(err))
	}
}

func run() error {
	cfg := &config.Config{}
	rootCmd := commands.NewRootCommand(cfg, commands.DefaultEnvironment(),
		commands.VersionString(version, commit, date))
	return rootCmd.Execute()
}
