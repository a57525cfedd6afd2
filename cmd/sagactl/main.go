// Command sagactl inspects and rolls back signup sagas that were kept after a
// failed compensation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/config"
	"github.com/fortressi/sellerhub/internal/app"
	"github.com/fortressi/sellerhub/logging"
	"github.com/fortressi/sellerhub/saga"
	"github.com/fortressi/sellerhub/signup"
	"github.com/fortressi/sellerhub/storage/postgres"
)

// controller is the part of signup.Compensator sagactl drives.
type controller interface {
	Sagas(ctx context.Context) ([]*saga.State[*signup.State], error)
	AllSagas(ctx context.Context) ([]*saga.State[*signup.State], error)
	Saga(ctx context.Context, sagaID string) (*saga.State[*signup.State], error)
	Rollback(ctx context.Context, sagaID string) error
	ForceRollback(ctx context.Context, sagaID string) error
	DOT() (string, error)
}

// migrator runs the saga store schema migrations.
type migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
}

type pgMigrator struct {
	databaseURL string
}

func (m pgMigrator) Up() error   { return postgres.MigrateUp(m.databaseURL) }
func (m pgMigrator) Down() error { return postgres.MigrateDown(m.databaseURL) }
func (m pgMigrator) Version() (uint, bool, error) {
	return postgres.MigrateVersion(m.databaseURL)
}

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger, err := logging.New(cfg.Log.Level, "text")
	if err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}

	if os.Args[1] == "migrate" {
		if cfg.Saga.Store != config.StorePostgres {
			logger.Fatal("migrate needs SELLERHUB_SAGA_STORE=postgres")
		}
		exit(logger, runMigrate(os.Args[2:], os.Stdout, pgMigrator{databaseURL: cfg.Saga.DatabaseURL}))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize app")
	}

	err = run(ctx, os.Args[1:], os.Stdout, application.Signup)
	if cerr := application.Close(); cerr != nil {
		logger.WithError(cerr).Warn("failed to release resources")
	}
	exit(logger, err)
}

func exit(logger logrus.FieldLogger, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, errUsage) {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	logger.WithError(err).Error("sagactl failed")
	os.Exit(1)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "sagactl manages retained signup sagas")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  sagactl list [--all]             - List retained sagas, or every stored saga")
	fmt.Fprintln(w, "  sagactl show ID                  - Print one saga as JSON")
	fmt.Fprintln(w, "  sagactl rollback [--force] ID    - Retry compensation and drop the saga")
	fmt.Fprintln(w, "  sagactl graph                    - Print the signup saga in DOT format")
	fmt.Fprintln(w, "  sagactl migrate up|down|version  - Manage the postgres saga store schema")
	fmt.Fprintln(w, "\nConfiguration is read from the same environment as the sellerhub server.")
}

func run(ctx context.Context, args []string, out io.Writer, c controller) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		all := fs.Bool("all", false, "Include running and completed sagas")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return listSagas(ctx, out, c, *all)
	case "show":
		id, err := parseSagaID("show", args[1:])
		if err != nil {
			return err
		}
		st, err := c.Saga(ctx, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "rollback":
		fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		force := fs.Bool("force", false, "Roll back a running saga that has not gone stale")
		id, err := parseSagaIDFlags(fs, "rollback", args[1:])
		if err != nil {
			return err
		}
		rollback := c.Rollback
		if *force {
			rollback = c.ForceRollback
		}
		if err := rollback(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "saga %s rolled back\n", id)
		return nil
	case "graph":
		dot, err := c.DOT()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, dot)
		return nil
	default:
		return errUsage
	}
}

func parseSagaID(cmd string, args []string) (string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return parseSagaIDFlags(fs, cmd, args)
}

func parseSagaIDFlags(fs *flag.FlagSet, cmd string, args []string) (string, error) {
	id := fs.String("saga-id", "", "Saga ID (required)")
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if *id == "" {
		return "", fmt.Errorf("%w: a saga id is required for %s", errUsage, cmd)
	}
	return *id, nil
}

func listSagas(ctx context.Context, out io.Writer, c controller, all bool) error {
	list := c.Sagas
	if all {
		list = c.AllSagas
	}
	states, err := list(ctx)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(out, "no retained sagas")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SAGA ID\tSTATUS\tEMAIL\tUSER ID\tCOMPLETED\tUPDATED")
	for _, st := range states {
		email, userID := "", ""
		if st.Context != nil {
			email, userID = st.Context.Email, st.Context.UserID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			st.SagaID, st.Status, email, userID, len(st.CompletedActions),
			st.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runMigrate(args []string, out io.Writer, m migrator) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: migrate takes one of up, down, version", errUsage)
	}

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("%w: unknown migrate command %q", errUsage, args[0])
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(out, "schema version: none")
		return nil
	}
	fmt.Fprintf(out, "schema version: %d", version)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
