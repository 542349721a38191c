package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/service/audit"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Audit holds CLI flags for the audit log sink
type Audit struct {
	backend string
	dsn     string
	table   string
}

func (x *Audit) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "audit-backend",
			Usage:       "Audit log backend (repository or postgres)",
			Category:    "Audit",
			Value:       "repository",
			Sources:     cli.EnvVars("SWITCHBOARD_AUDIT_BACKEND"),
			Destination: &x.backend,
		},
		&cli.StringFlag{
			Name:        "audit-postgres-dsn",
			Usage:       "Postgres DSN for the audit log",
			Category:    "Audit",
			Sources:     cli.EnvVars("SWITCHBOARD_AUDIT_POSTGRES_DSN"),
			Destination: &x.dsn,
		},
		&cli.StringFlag{
			Name:        "audit-postgres-table",
			Usage:       "Postgres table for audit events",
			Category:    "Audit",
			Value:       audit.DefaultPostgresTable,
			Sources:     cli.EnvVars("SWITCHBOARD_AUDIT_POSTGRES_TABLE"),
			Destination: &x.table,
		},
	}
}

func (x Audit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", x.backend),
		slog.Int("dsn.len", len(x.dsn)),
		slog.String("table", x.table),
	)
}

// Configure returns the audit sink and a closer for it.
func (x *Audit) Configure(repo interfaces.Repository) (interfaces.AuditSink, func(), error) {
	switch x.backend {
	case "repository", "":
		return audit.NewRepositorySink(repo), func() {}, nil

	case "postgres":
		sink, err := audit.NewPostgresSink(x.dsn, audit.WithTable(x.table))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to configure postgres audit sink")
		}
		logging.Default().Info("Using Postgres audit log", "table", x.table)
		closer := func() {
			if err := sink.Close(); err != nil {
				logging.Default().Error("failed to close audit sink", "error", err)
			}
		}
		return sink, closer, nil

	default:
		return nil, nil, goerr.New("invalid audit backend", goerr.V("backend", x.backend))
	}
}
