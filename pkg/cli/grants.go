package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/rbac"
)

func newGrantCommand(env *Env) *Command {
	cmd := newCommand(env, "grant", "-role ROLE [flags] TENANT USER", "Grant a user a role in a tenant")
	role := cmd.Flags.String("role", "", "Role, e.g. junior_agent")
	perms := cmd.Flags.String("permissions", "", "Comma-separated operation:resource permissions replacing the role table")
	primary := cmd.Flags.Bool("primary", false, "Mark this tenant as the user's primary tenant")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 2)
		if err != nil {
			return err
		}
		g := rbac.Grant{
			TenantID:  rest[0],
			UserID:    rest[1],
			Role:      rbac.Role(*role),
			Active:    true,
			IsPrimary: *primary,
		}
		for _, p := range strings.Split(*perms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				g.Permissions = append(g.Permissions, p)
			}
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			err := a.GrantAdmin.Grant(ctx, g)
			record(ctx, env, a, audit.ActionRoleAssigned, g.TenantID, err, func(e *audit.Event) {
				e.TargetUserID = g.UserID
				e.Details["role"] = string(g.Role)
			})
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", g.TenantID).WithField("user_id", g.UserID).Info("grant written")
			return nil
		})
	}
	return cmd
}

func newRevokeCommand(env *Env) *Command {
	cmd := newCommand(env, "revoke", "TENANT USER", "Deactivate a user's grant in a tenant")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 2)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			err := a.GrantAdmin.Revoke(ctx, rest[0], rest[1])
			record(ctx, env, a, audit.ActionRoleRemoved, rest[0], err, func(e *audit.Event) {
				e.TargetUserID = rest[1]
			})
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", rest[0]).WithField("user_id", rest[1]).Info("grant revoked")
			return nil
		})
	}
	return cmd
}

func newAuthorizeCommand(env *Env) *Command {
	cmd := newCommand(env, "authorize", "TENANT USER OPERATION RESOURCE", "Check a permission; exits non-zero when denied")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 4)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := a.Resolver.Require(ctx, rest[0], rest[1], rest[2], rest[3]); err != nil {
				fmt.Fprintln(env.Out, "denied")
				return err
			}
			fmt.Fprintln(env.Out, "allowed")
			return nil
		})
	}
	return cmd
}

func newTenantsForCommand(env *Env) *Command {
	cmd := newCommand(env, "tenants-for", "USER", "List the active grants of a user")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 1)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			grants, err := a.Resolver.TenantsForUser(ctx, rest[0])
			if err != nil {
				return err
			}
			return printJSON(env.Out, grants)
		})
	}
	return cmd
}
