package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

const (
	DefaultPostgresTable = "audit_events"
	postgresTimeout      = 5 * time.Second
)

// PostgresSink writes audit events to a Postgres table. The table is created
// on first use and only ever receives INSERTs.
type PostgresSink struct {
	dsn   string
	table string
	open  func(driverName, dsn string) (*sql.DB, error)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var (
	_ interfaces.AuditSink   = &PostgresSink{}
	_ interfaces.AuditReader = &PostgresSink{}
)

type PostgresOption func(*PostgresSink)

func WithTable(table string) PostgresOption {
	return func(s *PostgresSink) {
		s.table = table
	}
}

func NewPostgresSink(dsn string, opts ...PostgresOption) (*PostgresSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, goerr.New("postgres DSN is required")
	}

	s := &PostgresSink{
		dsn:   dsn,
		table: DefaultPostgresTable,
		open:  sql.Open,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PostgresSink) Record(ctx context.Context, ev *model.AuditEvent) (string, error) {
	if ev.EventType == "" {
		return "", goerr.New("audit event type is required")
	}
	if err := s.ensureReady(ctx); err != nil {
		return "", err
	}

	if ev.ID == "" {
		ev.ID = model.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	correlation, err := json.Marshal(ev.CorrelationIDs)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode correlation IDs")
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode audit payload")
	}

	ctx, cancel := context.WithTimeout(ctx, postgresTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, org_id, actor_type, actor_id, entity_type, entity_id,
			event_type, correlation_ids, payload, schema_version, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, quoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.OrgID, string(ev.ActorType), ev.ActorID, ev.EntityType, ev.EntityID,
		ev.EventType, string(correlation), string(payload), ev.SchemaVersion, ev.Timestamp.UTC(),
	); err != nil {
		return "", goerr.Wrap(err, "failed to insert audit event", goerr.V("event_type", ev.EventType))
	}
	return ev.ID, nil
}

// Query returns matching events, newest first.
func (s *PostgresSink) Query(ctx context.Context, orgID string, q interfaces.AuditQuery) ([]*model.AuditEvent, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	where := []string{"org_id = $1"}
	args := []any{orgID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.EventType != "" {
		add("event_type = $%d", q.EventType)
	}
	if q.EntityType != "" {
		add("entity_type = $%d", q.EntityType)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.Since != nil {
		add("ts >= $%d", q.Since.UTC())
	}
	if q.Until != nil {
		add("ts <= $%d", q.Until.UTC())
	}

	query := fmt.Sprintf(`
		SELECT id, org_id, actor_type, actor_id, entity_type, entity_id,
			event_type, correlation_ids, payload, schema_version, ts
		FROM %s WHERE %s ORDER BY ts DESC, seq DESC`, quoteIdentifier(s.table), strings.Join(where, " AND "))
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	ctx, cancel := context.WithTimeout(ctx, postgresTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query audit events", goerr.V("org_id", orgID))
	}
	defer rows.Close()

	events := []*model.AuditEvent{}
	for rows.Next() {
		var (
			ev          model.AuditEvent
			actorType   string
			correlation string
			payload     string
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &actorType, &ev.ActorID, &ev.EntityType, &ev.EntityID,
			&ev.EventType, &correlation, &payload, &ev.SchemaVersion, &ev.Timestamp); err != nil {
			return nil, goerr.Wrap(err, "failed to scan audit event")
		}
		ev.ActorType = types.ActorType(actorType)
		ev.Timestamp = ev.Timestamp.UTC()
		if err := json.Unmarshal([]byte(correlation), &ev.CorrelationIDs); err != nil {
			return nil, goerr.Wrap(err, "failed to decode correlation IDs", goerr.V("event_id", ev.ID))
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, goerr.Wrap(err, "failed to decode audit payload", goerr.V("event_id", ev.ID))
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate audit events")
	}
	return events, nil
}

func (s *PostgresSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresSink) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.open("postgres", s.dsn)
		if err != nil {
			s.initErr = goerr.Wrap(err, "failed to open postgres")
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postgresTimeout)
		defer cancel()

		table := quoteIdentifier(s.table)
		statements := []string{
			fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				org_id TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				actor_id TEXT NOT NULL DEFAULT '',
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				correlation_ids JSONB NOT NULL DEFAULT '{}',
				payload JSONB NOT NULL DEFAULT '{}',
				schema_version INTEGER NOT NULL,
				ts TIMESTAMPTZ NOT NULL
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (org_id, ts DESC)`,
				quoteIdentifier(s.table+"_org_ts"), table),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = goerr.Wrap(err, "failed to prepare audit table", goerr.V("table", s.table))
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
