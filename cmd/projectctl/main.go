// Command projectctl is the operator CLI for approving, editing, and
// resetting projects at each gate of the state machine. It is a thin
// client over the HTTP façade, grounded on a farcloser-haustorium-style
// command layout.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx := context.Background()

	app := &cli.Command{
		Name:  "projectctl",
		Usage: "Operator CLI for the production pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Base URL of the running API server",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("PROJECTCTL_SERVER"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Backend API key, if the server requires one",
				Sources: cli.EnvVars("PROJECTCTL_API_KEY"),
			},
		},
		Commands: []*cli.Command{
			planCommand(),
			approveImagesCommand(),
			approveVideosCommand(),
			approveAssembleCommand(),
			remixCommand(),
			statusCommand(),
			cancelCommand(),
			resetCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("projectctl failed", "error", err)
		os.Exit(1)
	}
}
