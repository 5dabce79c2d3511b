// Package main provides the oneshot-dashboard CLI entrypoint: a read-only
// terminal dashboard tailing one task's durable context file and activity
// log as the engine (run separately, e.g. via the oneshot CLI) drives it.
//
// Usage:
//
//	oneshot-dashboard --session <context.json> --session-log <activity.ndjson>
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/oneshot/cli/tui"
)

func main() {
	app := &cli.App{
		Name:  "oneshot-dashboard",
		Usage: "Tail a oneshot task's durable context and activity log",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Required: true, Usage: "path to the durable context file"},
			&cli.StringFlag{Name: "session-log", Required: true, Usage: "path to the activity log file"},
		},
		Action: func(c *cli.Context) error {
			return tui.Run(c.String("session"), c.String("session-log"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
