package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/localca/cmd/localca/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		commands.CAFlags `embed:""`

		Debug   bool `help:"Enable debug mode." env:"CA_DEBUG"`
		Version kong.VersionFlag

		Init  commands.InitCmd  `cmd:"" help:"Create the root CA if it does not exist"`
		Issue commands.IssueCmd `cmd:"" help:"Issue a certificate for a domain"`
		List  commands.ListCmd  `cmd:"" help:"List issued certificates"`
		Watch commands.WatchCmd `cmd:"" help:"Watch a domain list and issue certificates when it changes"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("localca"),
		kong.Description("A small self-hosted certificate authority for local and internal services."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Home:    cli.Home,
		Config:  cli.Config(),
	})
	cmd.FatalIfErrorf(err)
}
