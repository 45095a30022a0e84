package main

import (
	"fmt"
	"os"

	"queryengine/internal/cli"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	root := cli.NewRootCommand()
	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("queryengine %s (%s)\n", Version, Commit))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
