package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
)

// PostgresSchema documents the table this store expects. Migrations are owned
// by the platform's migration runner, not by this library.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
    id            TEXT PRIMARY KEY,
    owner_key     TEXT        NOT NULL,
    scope         TEXT        NOT NULL,
    scope_ref     TEXT        NOT NULL DEFAULT '',
    name          TEXT        NOT NULL,
    description   TEXT        NOT NULL DEFAULT '',
    content       TEXT        NOT NULL,
    usage_context TEXT        NOT NULL,
    is_active     BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata      JSONB
);
CREATE INDEX IF NOT EXISTS idx_knowledge_entries_owner_scope
    ON knowledge_entries (owner_key, scope) WHERE is_active;
`

// PgxQuerier is the subset of pgx connection behavior the store needs.
// Both *pgxpool.Pool and pgxmock satisfy it.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore runs the single canonical retrieval query against
// knowledge_entries. There is deliberately exactly one SELECT shape here;
// enhancements change this query rather than adding parallel ones.
type PostgresStore struct {
	db      PgxQuerier
	builder sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db PgxQuerier) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("store: postgres querier is required")
	}
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

type entryRow struct {
	ID           string    `db:"id"`
	OwnerKey     string    `db:"owner_key"`
	Scope        string    `db:"scope"`
	ScopeRef     string    `db:"scope_ref"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	Content      string    `db:"content"`
	UsageContext string    `db:"usage_context"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	Metadata     []byte    `db:"metadata"`
}

// Find selects active rows whose owner_key matches any probe variant.
func (s *PostgresStore) Find(ctx context.Context, q Query) ([]knowledge.Entry, error) {
	if err := validateQuery(&q); err != nil {
		return nil, err
	}
	builder := s.builder.
		Select("id", "owner_key", "scope", "scope_ref", "name", "description",
			"content", "usage_context", "is_active", "created_at", "metadata").
		From("knowledge_entries").
		Where(sq.Eq{"is_active": true}).
		Where(sq.Eq{"scope": string(q.Scope)}).
		Where(ownerPredicate(q.OwnerKeys)).
		OrderBy("created_at DESC", "id ASC")
	if q.Scope.RequiresRef() {
		builder = builder.Where(sq.Eq{"scope_ref": q.ScopeRef})
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: failed to build query: %w", err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapPostgresErr("find", err)
	}
	var scanned []entryRow
	if err := pgxscan.ScanAll(&scanned, rows); err != nil {
		return nil, wrapPostgresErr("scan", err)
	}
	out := make([]knowledge.Entry, 0, len(scanned))
	for i := range scanned {
		entry, err := scanned[i].toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// ownerPredicate matches owner_key exactly or by its normalized form, so
// rows persisted before key normalization was enforced stay reachable.
func ownerPredicate(keys []tenant.Key) sq.Sqlizer {
	owners := tenant.Strings(keys)
	return sq.Or{
		sq.Eq{"owner_key": owners},
		sq.Eq{"lower(btrim(owner_key))": owners},
	}
}

// Put inserts or replaces an entry under its normalized owner key.
func (s *PostgresStore) Put(ctx context.Context, entry knowledge.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	key, err := tenant.Normalize(entry.OwnerKey)
	if err != nil {
		return err
	}
	entry.OwnerKey = string(key)
	var metadata []byte
	if entry.Metadata != nil {
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("store: failed to encode metadata for %q: %w", entry.ID, err)
		}
	}
	sql, args, err := s.builder.
		Insert("knowledge_entries").
		Columns("id", "owner_key", "scope", "scope_ref", "name", "description",
			"content", "usage_context", "is_active", "created_at", "metadata").
		Values(entry.ID.String(), entry.OwnerKey, string(entry.Scope), entry.ScopeRef,
			entry.Name, entry.Description, entry.Content, string(entry.UsageContext),
			entry.IsActive, entry.CreatedAt, metadata).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			usage_context = EXCLUDED.usage_context,
			is_active = EXCLUDED.is_active,
			metadata = EXCLUDED.metadata`).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: failed to build upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return wrapPostgresErr("put", err)
	}
	return nil
}

// Deactivate soft-deletes an entry.
func (s *PostgresStore) Deactivate(ctx context.Context, id core.ID) error {
	sql, args, err := s.builder.
		Update("knowledge_entries").
		Set("is_active", false).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: failed to build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return wrapPostgresErr("deactivate", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: entry not found: %s", id)
	}
	return nil
}

func (r *entryRow) toEntry() (knowledge.Entry, error) {
	entry := knowledge.Entry{
		ID:           core.ID(r.ID),
		OwnerKey:     r.OwnerKey,
		Scope:        knowledge.Scope(r.Scope),
		ScopeRef:     r.ScopeRef,
		Name:         r.Name,
		Description:  r.Description,
		Content:      r.Content,
		UsageContext: knowledge.UsageContext(r.UsageContext),
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &entry.Metadata); err != nil {
			return knowledge.Entry{}, knowledge.NewMalformedEntryError(entry.ID, "undecodable metadata")
		}
	}
	return entry, nil
}

func wrapPostgresErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: postgres %s: %v", knowledge.ErrStoreUnavailable, op, err)
}
