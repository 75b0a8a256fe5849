package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	BeginFunc(ctx context.Context, f func(pgx.Tx) error) error
}

// CatalogLoader loads catalog artifacts stored as JSONB in catalog_versions.
type CatalogLoader struct {
	pool pgxQuerier
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

// LoadCatalog returns the artifact for version, or the active artifact when version is empty.
func (l *CatalogLoader) LoadCatalog(ctx context.Context, version string) (catalog.Artifact, error) {
	var raw []byte
	var err error
	if version == "" {
		err = l.pool.QueryRow(ctx, `SELECT data FROM catalog_versions WHERE active`).Scan(&raw)
	} else {
		err = l.pool.QueryRow(ctx, `SELECT data FROM catalog_versions WHERE version=$1`, version).Scan(&raw)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Artifact{}, fmt.Errorf("%w: version %q", domain.ErrCatalogNotFound, version)
	}
	if err != nil {
		return catalog.Artifact{}, fmt.Errorf("load catalog: %w", err)
	}
	var a catalog.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return catalog.Artifact{}, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return a, nil
}

// Publish stores a built artifact and makes it the active version. Republishing an
// existing version only reactivates it; published content is never rewritten.
func (l *CatalogLoader) Publish(ctx context.Context, a catalog.Artifact) error {
	if _, err := catalog.Compile(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE catalog_versions SET active = FALSE WHERE active AND version <> $1`, a.Version); err != nil {
			return fmt.Errorf("deactivate catalogs: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO catalog_versions (version, data, active) VALUES ($1, $2::jsonb, TRUE)
			 ON CONFLICT (version) DO UPDATE SET active = TRUE`,
			a.Version, string(data)); err != nil {
			return fmt.Errorf("insert catalog %s: %w", a.Version, err)
		}
		return nil
	})
}
