package cli

import (
	"context"
	"time"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/audit"
)

func newAuditCommand(env *Env) *Command {
	cmd := newCommand(env, "audit", "[flags] [TENANT]", "List audit events, newest first")
	action := cmd.Flags.String("action", "", "Only events with this action, e.g. role_assigned")
	actor := cmd.Flags.String("actor", "", "Only events by this actor")
	since := cmd.Flags.Duration("since", 0, "Only events newer than this, e.g. 24h")
	limit := cmd.Flags.Int("limit", audit.DefaultSearchLimit, "Maximum events to list")
	format := cmd.Flags.String("format", string(audit.ExportFormatJSON), "Output format: json, ndjson or csv")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		rest := cmd.Flags.Args()
		if len(rest) > 1 {
			cmd.Flags.Usage()
			return errUsage
		}

		filter := audit.SearchFilter{ActorID: *actor, Limit: *limit}
		if len(rest) == 1 {
			filter.TenantID = rest[0]
		}
		if *action != "" {
			a, err := audit.ParseAction(*action)
			if err != nil {
				return err
			}
			filter.Actions = []audit.Action{a}
		}
		if *since > 0 {
			from := time.Now().Add(-*since)
			filter.Since = &from
		}
		out, err := audit.ParseExportFormat(*format)
		if err != nil {
			return err
		}

		return withApp(env, func(ctx context.Context, a *app.App) error {
			events, err := a.AuditLog.Search(ctx, filter)
			if err != nil {
				return err
			}
			return audit.Export(env.Out, events, out)
		})
	}
	return cmd
}
