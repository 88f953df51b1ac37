package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Submit a brief and produce a script awaiting approval",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Required: true},
			&cli.StringFlag{Name: "style", Value: "cinematic"},
			&cli.IntFlag{Name: "duration", Value: 8},
			&cli.StringFlag{Name: "platform", Value: "tiktok"},
			&cli.StringFlag{Name: "aspect", Value: "9:16"},
			&cli.StringFlag{Name: "resolution", Value: "1080p"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			body := map[string]interface{}{
				"project_id": cmd.Args().First(),
				"config": map[string]interface{}{
					"topic":            cmd.String("topic"),
					"style":            cmd.String("style"),
					"duration_seconds": cmd.Int("duration"),
					"platform":         cmd.String("platform"),
					"aspect_ratio":     cmd.String("aspect"),
					"resolution":       cmd.String("resolution"),
				},
			}
			result, err := clientFromCommand(cmd).do(ctx, "POST", "/plan", body)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func approveImagesCommand() *cli.Command {
	return gateCommand("approve-images", "Approve the plan and start image/audio generation", "/generate/images")
}

func approveVideosCommand() *cli.Command {
	return gateCommand("approve-videos", "Approve images/audio and start motion generation", "/generate/videos")
}

func approveAssembleCommand() *cli.Command {
	return gateCommand("approve-assemble", "Approve videos and assemble the final cut", "/generate/assemble")
}

func gateCommand(name, usage, path string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<project-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			body := map[string]interface{}{"project_id": cmd.Args().First()}
			result, err := clientFromCommand(cmd).do(ctx, "POST", path, body)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func remixCommand() *cli.Command {
	return &cli.Command{
		Name:      "remix",
		Usage:     "Re-run the audio stage and re-assemble, reusing existing visuals",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sfx", Usage: "keep | remove | regenerate", Value: "keep"},
			&cli.StringFlag{Name: "bgm", Usage: "keep | remove | regenerate", Value: "keep"},
			&cli.StringFlag{Name: "script-file", Usage: "path to the edited script JSON to remix with", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			raw, err := os.ReadFile(cmd.String("script-file"))
			if err != nil {
				return fmt.Errorf("read script file: %w", err)
			}
			var script map[string]interface{}
			if err := json.Unmarshal(raw, &script); err != nil {
				return fmt.Errorf("parse script file: %w", err)
			}
			body := map[string]interface{}{
				"project_id": cmd.Args().First(),
				"script":     script,
				"options": map[string]interface{}{
					"sfx": cmd.String("sfx"),
					"bgm": cmd.String("bgm"),
				},
			}
			result, err := clientFromCommand(cmd).do(ctx, "POST", "/remix", body)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Print the current project state",
		ArgsUsage: "<project-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			result, err := clientFromCommand(cmd).do(ctx, "GET", "/status/"+cmd.Args().First(), nil)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel whatever stage is currently running for a project",
		ArgsUsage: "<project-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			result, err := clientFromCommand(cmd).do(ctx, "POST", "/cancel/"+cmd.Args().First(), nil)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Drop a project back to initialized",
		ArgsUsage: "<project-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: project id")
			}
			result, err := clientFromCommand(cmd).do(ctx, "POST", "/reset/"+cmd.Args().First(), nil)
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}
}
