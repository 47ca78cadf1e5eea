// Command adbridge authenticates logins against Active Directory and keeps
// local accounts synchronized with it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/cli"
)

// version is set at build time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("adbridge", version)
	c.Args = args
	c.Commands = commands(ctx, ui)

	status, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return status
}
