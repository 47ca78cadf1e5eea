package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/server"
)

// EnvConfigPath names the configuration file when -config is not given.
const EnvConfigPath = "ADBRIDGE_CONFIG"

// baseCommand carries what every subcommand shares.
type baseCommand struct {
	ctx  context.Context
	ui   cli.Ui
	open func(ctx context.Context, path string) (*app, error)
}

func (c *baseCommand) flags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(&uiWriter{ui: c.ui})
	path := fs.String("config", os.Getenv(EnvConfigPath), "path to the YAML configuration file")
	return fs, path
}

func (c *baseCommand) fail(err error) int {
	c.ui.Error(err.Error())
	return 1
}

type serveCommand struct {
	baseCommand
}

func (c *serveCommand) Synopsis() string {
	return "Serve authentication and synchronization over HTTP"
}

func (c *serveCommand) Help() string {
	return strings.TrimSpace(`
Usage: adbridge serve [-config=path]

  Starts the HTTP API. Authentication requests are answered at
  /api/v1/authenticate and synchronization passes are triggered at
  /api/v1/sync/to-local and /api/v1/sync/to-directory.
`)
}

func (c *serveCommand) Run(args []string) int {
	fs, path := c.flags("serve")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := c.open(c.ctx, *path)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	srv := server.New(server.Config{
		Listen:        a.config.Server.Listen,
		AuthRateLimit: a.config.Server.AuthRateLimit,
		AuthBurst:     a.config.Server.AuthBurst,
	}, server.Deps{
		Authenticator: a.orchestrator,
		ToLocal:       a.toLocal,
		ToDirectory:   a.toDirectory,
		Ready:         a.directory.CheckPorts,
		Metrics:       a.metrics,
		Gatherer:      a.registry,
	}, a.logger.Named("server"))

	if err := srv.ListenAndServe(c.ctx); err != nil {
		return c.fail(err)
	}
	return 0
}

// syncCommand runs one synchronization pass and prints its summary.
type syncCommand struct {
	baseCommand
	name     string
	synopsis string
	runner   func(a *app) server.Runner
}

func (c *syncCommand) Synopsis() string { return c.synopsis }

func (c *syncCommand) Help() string {
	return fmt.Sprintf("Usage: adbridge %s [-config=path]\n\n  %s. The summary is printed as JSON.", c.name, c.synopsis)
}

func (c *syncCommand) Run(args []string) int {
	fs, path := c.flags(c.name)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := c.open(c.ctx, *path)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	summary, runErr := c.runner(a).Run(c.ctx)
	if err := c.printSummary(summary); err != nil {
		return c.fail(err)
	}
	if runErr != nil {
		return c.fail(runErr)
	}
	return 0
}

func (c *syncCommand) printSummary(summary dirsync.Summary) error {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	c.ui.Output(string(out))
	return nil
}

type authenticateCommand struct {
	baseCommand
}

func (c *authenticateCommand) Synopsis() string {
	return "Authenticate a single login against the directory"
}

func (c *authenticateCommand) Help() string {
	return strings.TrimSpace(`
Usage: adbridge authenticate [-config=path] LOGIN

  Runs one login attempt through the same path as the HTTP API,
  including brute-force throttling and account reconciliation. The
  password is read from ADBRIDGE_PASSWORD or prompted for.
`)
}

func (c *authenticateCommand) Run(args []string) int {
	fs, path := c.flags("authenticate")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		c.ui.Error(c.Help())
		return 1
	}
	login := fs.Arg(0)

	password, ok := os.LookupEnv("ADBRIDGE_PASSWORD")
	if !ok {
		var err error
		if password, err = c.ui.AskSecret("Password:"); err != nil {
			return c.fail(err)
		}
	}

	a, err := c.open(c.ctx, *path)
	if err != nil {
		return c.fail(err)
	}
	defer a.Close()

	res := a.orchestrator.Authenticate(c.ctx, login, password)
	if !res.Authenticated {
		msg := fmt.Sprintf("authentication failed: %s", res.Reason)
		if res.Err != nil {
			msg += ": " + res.Err.Error()
		}
		c.ui.Error(msg)
		return 2
	}

	c.ui.Output(fmt.Sprintf("authenticated %s as account %d", res.Credentials.BindName(), res.Account.ID))
	return 0
}

// uiWriter lets flag usage go through the Ui.
type uiWriter struct {
	ui cli.Ui
}

func (w *uiWriter) Write(p []byte) (int, error) {
	w.ui.Error(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func commands(ctx context.Context, ui cli.Ui) map[string]cli.CommandFactory {
	base := baseCommand{ctx: ctx, ui: ui, open: newApp}

	return map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &serveCommand{baseCommand: base}, nil
		},
		"sync-to-local": func() (cli.Command, error) {
			return &syncCommand{
				baseCommand: base,
				name:        "sync-to-local",
				synopsis:    "Import directory users into local accounts",
				runner:      func(a *app) server.Runner { return a.toLocal },
			}, nil
		},
		"sync-to-directory": func() (cli.Command, error) {
			return &syncCommand{
				baseCommand: base,
				name:        "sync-to-directory",
				synopsis:    "Push local account attributes to the directory",
				runner:      func(a *app) server.Runner { return a.toDirectory },
			}, nil
		},
		"authenticate": func() (cli.Command, error) {
			return &authenticateCommand{baseCommand: base}, nil
		},
	}
}
