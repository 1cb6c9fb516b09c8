package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/tunnelkeep/tunnelkeep/internal/auth"
)

type TokenCmd struct {
	Subject    string        `help:"User identifier to embed as the token subject" required:""`
	TTL        time.Duration `help:"Token lifetime" default:"1h"`
	SigningKey string        `help:"JWT signing key" required:"" env:"TUNNELKEEP_JWT_SECRET"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	verifier, err := auth.NewTokenVerifier([]byte(t.SigningKey))
	if err != nil {
		return err
	}

	token, err := verifier.Issue(t.Subject, t.TTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
