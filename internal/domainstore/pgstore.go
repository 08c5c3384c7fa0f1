package domainstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/designer/model"
)

// Schema creates the tables used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS domain_designs (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	properties  JSONB,
	key_name    TEXT NOT NULL DEFAULT '',
	key_type    TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS domain_designs_name_idx
	ON domain_designs (tenant_id, kind, lower(name));
CREATE TABLE IF NOT EXISTS domain_fields (
	domain_id TEXT NOT NULL REFERENCES domain_designs (id) ON DELETE CASCADE,
	ordinal   INTEGER NOT NULL,
	name      TEXT NOT NULL,
	data_type TEXT NOT NULL,
	required  BOOLEAN NOT NULL,
	PRIMARY KEY (domain_id, ordinal)
);`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
	qb   squirrel.StatementBuilderType
}

// NewPgStore creates a new PostgreSQL domain store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		pool: pool,
		qb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// EnsureSchema creates the store tables if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure domain schema: %w", err)
	}
	return nil
}

// LoadDomain retrieves a domain and its ordered fields, scoped to tenant.
func (s *PgStore) LoadDomain(ctx context.Context, tenantID, id string) (model.DomainDesign, error) {
	var d model.DomainDesign
	var propsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, kind, name, description, properties,
		       key_name, key_type, version, created_at, updated_at
		FROM domain_designs
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(
		&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.Description, &propsJSON,
		&d.KeyName, &d.KeyType, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DomainDesign{}, model.NewNotFoundError(fmt.Sprintf("domain %q not found", id))
	}
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("query domain: %w", err)
	}
	if propsJSON != nil {
		if err := json.Unmarshal(propsJSON, &d.Properties); err != nil {
			return model.DomainDesign{}, fmt.Errorf("unmarshal properties: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT name, data_type, required
		FROM domain_fields
		WHERE domain_id = $1
		ORDER BY ordinal ASC`,
		id,
	)
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("query domain fields: %w", err)
	}
	fields, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Field, error) {
		var f model.Field
		err := row.Scan(&f.Name, &f.DataType, &f.Required)
		return f, err
	})
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("scan domain fields: %w", err)
	}
	d.Fields = fields
	return d, nil
}

// SaveDomain validates and writes the design and its fields in one
// transaction.
func (s *PgStore) SaveDomain(ctx context.Context, tenantID string, design model.DomainDesign) (model.DomainDesign, error) {
	design = cloneDesign(design)
	design.TenantID = tenantID
	details := Validate(design)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	creating := design.ID == ""
	if !creating {
		var stored model.DomainDesign
		err := tx.QueryRow(ctx, `
			SELECT version, key_name, key_type, created_at
			FROM domain_designs
			WHERE id = $1 AND tenant_id = $2
			FOR UPDATE`,
			design.ID, tenantID,
		).Scan(&stored.Version, &stored.KeyName, &stored.KeyType, &stored.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DomainDesign{}, model.NewNotFoundError(fmt.Sprintf("domain %q not found", design.ID))
		}
		if err != nil {
			return model.DomainDesign{}, fmt.Errorf("lock domain: %w", err)
		}
		if stored.Version != design.Version {
			return model.DomainDesign{}, model.NewConflictError(
				fmt.Sprintf("domain %q version conflict (expected %d, got %d)", design.ID, design.Version, stored.Version),
			)
		}
		details = append(details, checkKeyUnchanged(stored, design)...)
		design.CreatedAt = stored.CreatedAt
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM domain_designs
			WHERE tenant_id = $1 AND kind = $2 AND lower(name) = lower($3) AND id <> $4
		)`,
		tenantID, design.Kind, design.Name, design.ID,
	).Scan(&taken)
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("check domain name: %w", err)
	}
	if taken {
		details = append(details, duplicateName(design))
	}
	if len(details) > 0 {
		return model.DomainDesign{}, model.NewValidationError(details)
	}

	propsJSON, err := json.Marshal(design.Properties)
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("marshal properties: %w", err)
	}

	now := time.Now().UTC()
	design.UpdatedAt = now
	if creating {
		design.ID = uuid.New().String()
		design.Version = 1
		design.CreatedAt = now
		_, err = tx.Exec(ctx, `
			INSERT INTO domain_designs (
				id, tenant_id, kind, name, description, properties,
				key_name, key_type, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			design.ID, tenantID, design.Kind, design.Name, design.Description, propsJSON,
			design.KeyName, design.KeyType, design.Version, design.CreatedAt, design.UpdatedAt,
		)
		if err != nil {
			return model.DomainDesign{}, nameRace(design, fmt.Errorf("insert domain: %w", err))
		}
	} else {
		design.Version++
		_, err = tx.Exec(ctx, `
			UPDATE domain_designs SET
				name = $1,
				description = $2,
				properties = $3,
				key_name = $4,
				key_type = $5,
				version = $6,
				updated_at = $7
			WHERE id = $8`,
			design.Name, design.Description, propsJSON,
			design.KeyName, design.KeyType, design.Version, design.UpdatedAt,
			design.ID,
		)
		if err != nil {
			return model.DomainDesign{}, nameRace(design, fmt.Errorf("update domain: %w", err))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM domain_fields WHERE domain_id = $1`, design.ID); err != nil {
			return model.DomainDesign{}, fmt.Errorf("delete domain fields: %w", err)
		}
	}

	rows := make([][]any, len(design.Fields))
	for i, f := range design.Fields {
		rows[i] = []any{design.ID, i, f.Name, string(f.DataType), f.Required}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"domain_fields"},
		[]string{"domain_id", "ordinal", "name", "data_type", "required"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return model.DomainDesign{}, fmt.Errorf("insert domain fields: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DomainDesign{}, nameRace(design, fmt.Errorf("commit save: %w", err))
	}
	return design, nil
}

// ListDomains returns the tenant's domains ordered by name. Fields are not
// loaded.
func (s *PgStore) ListDomains(ctx context.Context, tenantID, kind string) ([]model.DomainDesign, error) {
	query, args, err := listDomainsQuery(s.qb, tenantID, kind).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build domain query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	result := []model.DomainDesign{}
	for rows.Next() {
		var d model.DomainDesign
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.Kind, &d.Name, &d.Description,
			&d.KeyName, &d.KeyType, &d.Version, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

func duplicateName(design model.DomainDesign) model.FieldError {
	return model.FieldError{
		Field: "name", Code: CodeDuplicate,
		Message: fmt.Sprintf("a %s named %q already exists", design.Kind, design.Name),
	}
}

// nameRace turns a violation of the name index, hit when a concurrent save
// took the name after the EXISTS check, into the same validation error the
// check would have returned. Other errors pass through.
func nameRace(design model.DomainDesign, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "domain_designs_name_idx" {
		return model.NewValidationError([]model.FieldError{duplicateName(design)})
	}
	return err
}

func listDomainsQuery(qb squirrel.StatementBuilderType, tenantID, kind string) squirrel.SelectBuilder {
	q := qb.Select("id", "tenant_id", "kind", "name", "description",
		"key_name", "key_type", "version", "created_at", "updated_at").
		From("domain_designs").
		Where(squirrel.Eq{"tenant_id": tenantID})
	if kind != "" {
		q = q.Where(squirrel.Eq{"kind": kind})
	}
	return q.OrderBy("name ASC")
}
