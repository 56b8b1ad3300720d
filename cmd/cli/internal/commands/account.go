package commands

import (
	"context"
	"fmt"
	"os"
)

// RecoverCmd emails a password reset token.
type RecoverCmd struct {
	Email      string `arg:"" help:"Account email"`
	RedirectTo string `help:"Where the emailed link should land"`
}

func (c *RecoverCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.RequestRecovery(ctx, c.Email, c.RedirectTo); err != nil {
		return userError(err)
	}
	fmt.Println("Se l'indirizzo è registrato riceverai un'email con le istruzioni.")
	return nil
}

// ResetPasswordCmd completes a recovery with the emailed token.
type ResetPasswordCmd struct {
	Email      string `arg:"" help:"Account email"`
	Token      string `arg:"" help:"Recovery token from the email"`
	Password   string `help:"New password (prompted when omitted)" env:"POLTRONA_PASSWORD"`
	NoRemember bool   `help:"Do not keep the session after this command exits"`
}

func (c *ResetPasswordCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	password, err := readSecret(c.Password, "Nuova password: ", os.Stdin)
	if err != nil {
		return err
	}

	state, err := a.manager.CompleteRecovery(ctx, c.Email, c.Token, password, rememberOptions(c.NoRemember)...)
	if err != nil {
		return userError(err)
	}

	fmt.Println("Password aggiornata.")
	printUser(os.Stdout, state)
	return nil
}

// AssignShopCmd binds the signed-in user to a shop.
type AssignShopCmd struct {
	ShopID string `arg:"" name:"shop-id" help:"Shop identifier"`
}

func (c *AssignShopCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	state, err := a.manager.AssignShop(ctx, c.ShopID)
	if err != nil {
		return userError(err)
	}

	fmt.Println("Negozio assegnato.")
	printUser(os.Stdout, state)
	return nil
}
