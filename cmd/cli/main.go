package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/poltrona/poltrona/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login         commands.LoginCmd         `cmd:"" help:"Sign in with email and password"`
		OAuth         commands.OAuthCmd         `cmd:"" name:"oauth" help:"Sign in with an external provider"`
		Register      commands.RegisterCmd      `cmd:"" help:"Create a client account"`
		Logout        commands.LogoutCmd        `cmd:"" help:"Sign out"`
		Whoami        commands.WhoamiCmd        `cmd:"" help:"Show the current session"`
		Can           commands.CanCmd           `cmd:"" help:"Check a permission"`
		Refresh       commands.RefreshCmd       `cmd:"" help:"Refresh the access token"`
		Verify        commands.VerifyCmd        `cmd:"" help:"Verify the access token and sync the profile"`
		Watch         commands.WatchCmd         `cmd:"" help:"Keep the session fresh in the foreground"`
		Recover       commands.RecoverCmd       `cmd:"" help:"Request a password reset"`
		ResetPassword commands.ResetPasswordCmd `cmd:"" name:"reset-password" help:"Set a new password with a recovery token"`
		AssignShop    commands.AssignShopCmd    `cmd:"" name:"assign-shop" help:"Bind the account to a shop"`
		Config        string                    `help:"Config file (default ~/.poltrona/config.yaml)" env:"POLTRONA_CONFIG" type:"path"`
		Debug         bool                      `help:"Enable debug mode."`
		Version       kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("poltrona"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Config: cli.Config})
	cmd.FatalIfErrorf(err)
}
