package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/storage/postgres"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

func newMigrateCommand(env *Env) *Command {
	cmd := newCommand(env, "migrate", "", "Apply pending schema migrations")
	cmd.Run = func(args []string) error {
		if _, err := cmd.parse(args, 0); err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := requireStore(a, cmd.Name); err != nil {
				return err
			}
			n, err := postgres.RunMigrations(ctx, a.Conns.Primary(), a.Logger)
			if err != nil {
				return err
			}
			env.Logger.WithField("applied", n).Info("migrations complete")
			return nil
		})
	}
	return cmd
}

func newCreateTenantCommand(env *Env) *Command {
	cmd := newCommand(env, "create-tenant", "-id ID -name NAME [flags]", "Create a tenant")
	id := cmd.Flags.String("id", "", "Tenant id")
	code := cmd.Flags.String("code", "", "Short tenant code (defaults to the id)")
	name := cmd.Flags.String("name", "", "Display name")
	typ := cmd.Flags.String("type", "", "Tenant type, e.g. insurance_provider")
	plan := cmd.Flags.String("plan", string(tenant.PlanBasic), "Subscription plan (basic, professional, enterprise)")
	status := cmd.Flags.String("status", string(tenant.StatusActive), "Initial status")
	trialDays := cmd.Flags.Int("trial-days", 0, "Trial length in days, for trial tenants")
	maxUsers := cmd.Flags.Int64("max-users", 0, "User limit (0 is unlimited)")
	storageGB := cmd.Flags.Int64("storage-gb", 0, "Storage limit in GB (0 is unlimited)")
	apiRate := cmd.Flags.Int64("api-rate", 0, "API calls per hour (0 is unlimited)")
	email := cmd.Flags.String("email", "", "Contact email")

	cmd.Run = func(args []string) error {
		if _, err := cmd.parse(args, 0); err != nil {
			return err
		}
		t := &tenant.Tenant{
			ID:     *id,
			Code:   *code,
			Name:   *name,
			Type:   *typ,
			Status: tenant.Status(*status),
			Plan:   tenant.Plan(*plan),
			Limits: tenant.Limits{
				MaxUsers:       *maxUsers,
				StorageLimitGB: *storageGB,
				APIRateLimit:   *apiRate,
			},
			Contact: tenant.Contact{Email: *email},
		}
		if *trialDays > 0 {
			ends := time.Now().UTC().AddDate(0, 0, *trialDays)
			t.TrialEndsAt = &ends
		}

		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := requireStore(a, cmd.Name); err != nil {
				return err
			}
			err := a.Store.CreateTenant(ctx, t)
			record(ctx, env, a, audit.ActionTenantCreated, t.ID, err, func(e *audit.Event) {
				e.Details["plan"] = string(t.Plan)
				e.Details["status"] = string(t.Status)
			})
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", t.ID).Info("tenant created")
			return printJSON(env.Out, t)
		})
	}
	return cmd
}

func newGetTenantCommand(env *Env) *Command {
	cmd := newCommand(env, "get-tenant", "TENANT", "Show the resolved context of a tenant")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 1)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			tc, err := a.TenantCache.Lookup(ctx, rest[0])
			if err != nil {
				return err
			}
			return printJSON(env.Out, tc)
		})
	}
	return cmd
}

func newListTenantsCommand(env *Env) *Command {
	cmd := newCommand(env, "list-tenants", "[-status STATUS]", "List tenants")
	status := cmd.Flags.String("status", "", "Only tenants with this status")
	cmd.Run = func(args []string) error {
		if _, err := cmd.parse(args, 0); err != nil {
			return err
		}
		if *status != "" {
			if _, err := tenant.ParseStatus(*status); err != nil {
				return err
			}
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := requireStore(a, cmd.Name); err != nil {
				return err
			}
			tenants, err := a.Store.ListTenants(ctx, tenant.Status(*status))
			if err != nil {
				return err
			}
			for _, t := range tenants {
				fmt.Fprintf(env.Out, "%-20s %-12s %-14s %s\n", t.ID, t.Status, t.Plan, t.Name)
			}
			return nil
		})
	}
	return cmd
}

func newSetStatusCommand(env *Env) *Command {
	cmd := newCommand(env, "set-status", "TENANT STATUS", "Change a tenant's status")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 2)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			err := a.TenantAdmin.SetStatus(ctx, rest[0], tenant.Status(rest[1]))
			record(ctx, env, a, audit.ActionTenantStatusChanged, rest[0], err, func(e *audit.Event) {
				e.Details["status"] = rest[1]
			})
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", rest[0]).WithField("status", rest[1]).Info("status updated")
			return nil
		})
	}
	return cmd
}

func newSetConfigCommand(env *Env) *Command {
	cmd := newCommand(env, "set-config", "[-type TYPE] TENANT KEY VALUE", "Set a typed tenant config value")
	typ := cmd.Flags.String("type", string(tenant.ConfigString), "Value type: string, int, bool, json or list")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 3)
		if err != nil {
			return err
		}
		value, err := parseConfigValue(tenant.ConfigType(*typ), rest[2])
		if err != nil {
			return err
		}
		entry := tenant.ConfigEntry{Key: rest[1], Type: tenant.ConfigType(*typ), Value: value}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			err := a.TenantAdmin.SetConfig(ctx, rest[0], entry)
			record(ctx, env, a, audit.ActionTenantConfigChanged, rest[0], err, func(e *audit.Event) {
				e.Details["key"] = entry.Key
				e.Details["type"] = string(entry.Type)
			})
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", rest[0]).WithField("key", entry.Key).Info("config updated")
			return nil
		})
	}
	return cmd
}

// parseConfigValue converts the command-line form of a value to its type
func parseConfigValue(typ tenant.ConfigType, raw string) (any, error) {
	switch typ {
	case tenant.ConfigString:
		return raw, nil
	case tenant.ConfigInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", tenant.ErrInvalidConfig, raw)
		}
		return n, nil
	case tenant.ConfigBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", tenant.ErrInvalidConfig, raw)
		}
		return b, nil
	case tenant.ConfigJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%w: %v", tenant.ErrInvalidConfig, err)
		}
		return v, nil
	case tenant.ConfigList:
		items := []any{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", tenant.ErrInvalidConfig, typ)
	}
}

func newInvalidateCommand(env *Env) *Command {
	cmd := newCommand(env, "invalidate", "TENANT", "Drop cached state of a tenant in every process")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 1)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			err := a.TenantCache.Invalidate(ctx, rest[0])
			record(ctx, env, a, audit.ActionTenantInvalidated, rest[0], err, nil)
			if err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", rest[0]).Info("tenant invalidated")
			return nil
		})
	}
	return cmd
}

func newSetUsageCommand(env *Env) *Command {
	cmd := newCommand(env, "set-usage", "TENANT RESOURCE AMOUNT", "Record measured usage of a resource")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 3)
		if err != nil {
			return err
		}
		amount, err := strconv.ParseInt(rest[2], 10, 64)
		if err != nil || amount < 0 {
			return fmt.Errorf("%w: amount must be a non-negative integer", errUsage)
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := requireStore(a, cmd.Name); err != nil {
				return err
			}
			err := a.Store.SetUsage(ctx, rest[0], rest[1], amount)
			record(ctx, env, a, audit.ActionUsageSet, rest[0], err, func(e *audit.Event) {
				e.Details["resource"] = rest[1]
				e.Details["amount"] = amount
			})
			if err != nil {
				return err
			}
			if err := a.Limiter.Reset(ctx, rest[0], rest[1]); err != nil {
				return err
			}
			env.Logger.WithField("tenant_id", rest[0]).WithField("resource", rest[1]).Info("usage recorded")
			return nil
		})
	}
	return cmd
}

func newCheckLimitCommand(env *Env) *Command {
	cmd := newCommand(env, "check-limit", "[-amount N] TENANT RESOURCE", "Check whether more of a resource fits the tenant's limit")
	amount := cmd.Flags.Int64("amount", 1, "Amount to add")
	cmd.Run = func(args []string) error {
		rest, err := cmd.parse(args, 2)
		if err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			if err := a.Limiter.Check(ctx, rest[0], rest[1], *amount); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "ok")
			return nil
		})
	}
	return cmd
}
