package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/tunnelkeep/tunnelkeep/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Send    commands.SendCmd  `cmd:"" help:"Send a command to the orchestration API"`
		Token   commands.TokenCmd `cmd:"" help:"Generate a bearer token"`
		Debug   bool              `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
