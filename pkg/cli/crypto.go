package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/envelope"
)

// errMismatch is returned by verify when the value does not match
var errMismatch = errors.New("value does not match hash")

func newKeyStatusCommand(env *Env) *Command {
	cmd := newCommand(env, "key-status", "TENANT", "Show the encryption setup of a tenant")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 1)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			st, err := a.Envelope.Status(ctx, rest[0])
			if err != nil {
				return err
			}
			return printJSON(env.Out, st)
		})
	}
	return cmd
}

func newHashCommand(env *Env) *Command {
	cmd := newCommand(env, "hash", "[-salt SALT] VALUE", "Hash a value for equality search")
	salt := cmd.Flags.String("salt", "", "Salt (random when empty)")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 1)
		if err != nil {
			return err
		}
		h, err := envelope.HashForComparison(rest[0], *salt)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Out, h)
		return nil
	}
	return cmd
}

func newVerifyCommand(env *Env) *Command {
	cmd := newCommand(env, "verify", "VALUE HASH", "Check a value against a hash; exits non-zero on mismatch")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 2)
		if err != nil {
			return err
		}
		if !envelope.Verify(rest[0], rest[1]) {
			fmt.Fprintln(env.Out, "mismatch")
			return errMismatch
		}
		fmt.Fprintln(env.Out, "match")
		return nil
	}
	return cmd
}
