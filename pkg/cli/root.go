package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agentmitra/tenancy/pkg/app"
	"github.com/agentmitra/tenancy/pkg/audit"
)

// commandTimeout bounds every backend call made by a command
const commandTimeout = 30 * time.Second

// errUsage is returned for malformed invocations; usage has been printed
var errUsage = errors.New("invalid usage")

// Env carries what commands share: where to print, how to log and how to
// open the wired components.
type Env struct {
	Out    io.Writer
	Logger *logrus.Logger
	Open   func() (*app.App, error)
	// Actor names the operator in the audit trail, default "tenantctl"
	Actor string
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// newCommand creates a leaf command whose flags print to env.Out
func newCommand(env *Env, name, usage, description string) *Command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.Out)
	cmd := &Command{
		Name:        name,
		Description: description,
		Usage:       usage,
		Flags:       fs,
		out:         env.Out,
	}
	fs.Usage = func() {
		fmt.Fprintf(env.Out, "Usage: tenantctl %s %s\n\n%s\n", name, usage, description)
		fs.PrintDefaults()
	}
	return cmd
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "tenantctl",
		Description: "tenantctl - operate tenants, grants and tenant keys",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tenantctl", flag.ContinueOnError),
		out:         env.Out,
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newCreateTenantCommand(env),
		newGetTenantCommand(env),
		newListTenantsCommand(env),
		newSetStatusCommand(env),
		newSetConfigCommand(env),
		newInvalidateCommand(env),
		newSetUsageCommand(env),
		newCheckLimitCommand(env),
		newGrantCommand(env),
		newRevokeCommand(env),
		newAuthorizeCommand(env),
		newTenantsForCommand(env),
		newKeyStatusCommand(env),
		newHashCommand(env),
		newVerifyCommand(env),
		newAuditCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		_ = c.usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return subcmd.Run(args[1:])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// parse parses flags and checks the positional argument count
func (c *Command) parse(args []string, positional int) ([]string, error) {
	if err := c.Flags.Parse(args); err != nil {
		return nil, err
	}
	rest := c.Flags.Args()
	if len(rest) != positional {
		c.Flags.Usage()
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", errUsage, c.Name, positional, len(rest))
	}
	return rest, nil
}

// withApp opens the components, runs fn and releases them
func withApp(env *Env, fn func(ctx context.Context, a *app.App) error) error {
	a, err := env.Open()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			env.Logger.WithError(err).Warn("failed to close backends")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return fn(ctx, a)
}

// record adds a mutation made by a command to the audit trail
func record(ctx context.Context, env *Env, a *app.App, action audit.Action, tenantID string, err error, edit func(e *audit.Event)) {
	e := audit.NewEvent(ctx, nil, action, tenantID, err)
	e.ActorID = env.Actor
	if e.ActorID == "" {
		e.ActorID = "tenantctl"
	}
	if edit != nil {
		edit(e)
	}
	a.Trail.Record(ctx, e)
}

// requireStore fails for commands that need the Postgres system of record
func requireStore(a *app.App, command string) error {
	if a.Store == nil {
		return fmt.Errorf("%s requires a postgres system of record (set TENANCY_POSTGRES_URL)", command)
	}
	return nil
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
