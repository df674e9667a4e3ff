package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "reelpipe",
		Usage: "video content pipeline: search, download, subtitle, render and copywriting",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API, with an embedded worker unless disabled",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port (overrides PORT)"},
					&cli.BoolFlag{Name: "no-worker", Usage: "do not start the embedded worker"},
					&cli.BoolFlag{Name: "skip-migrations", Usage: "do not apply migrations on startup"},
				},
				Action: serveAction,
			},
			{
				Name:   "worker",
				Usage:  "run the standalone worker and reconcile scheduler",
				Action: workerAction,
			},
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Commands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply pending migrations",
						Action: migrateUpAction,
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Usage: "number of migrations to revert", Value: 1},
						},
						Action: migrateDownAction,
					},
					{
						Name:   "seed",
						Usage:  "insert development sample data",
						Action: seedAction,
					},
				},
			},
			{
				Name:   "reconcile",
				Usage:  "run one reconciler pass and print the report",
				Action: reconcileAction,
			},
			{
				Name:  "task",
				Usage: "inspect async work",
				Commands: []*cli.Command{
					{
						Name:  "wait",
						Usage: "poll a task or subtitle until it is terminal",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Usage: "task or subtitle ID", Required: true},
							&cli.BoolFlag{Name: "subtitle", Usage: "the ID is a subtitle"},
						},
						Action: taskWaitAction,
					},
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
