package snapshotstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/Faultbox/edgefixup/internal/fixup"
	"github.com/Faultbox/edgefixup/internal/snapshotstore/migrations"
)

// DefaultTimeout bounds each PGStore operation made through the
// fixup.SnapshotStore methods.
const DefaultTimeout = 5 * time.Second

// PGStore keeps cooked snapshots in PostgreSQL, one row per raster, so a
// build farm can share them. Rows hold the same zstd payload as the file
// store.
type PGStore struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	timeout time.Duration
}

// OpenPG connects to dsn, applies migrations and returns the store.
func OpenPG(ctx context.Context, dsn string, log *zap.Logger) (*PGStore, error) {
	if err := RunMigrations(ctx, dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PGStore{pool: pool, log: log.Named("snapshotstore"), timeout: DefaultTimeout}, nil
}

// RunMigrations applies the goose migrations on dsn.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Load implements fixup.SnapshotStore.
func (s *PGStore) Load(id uuid.UUID) (*fixup.EdgeSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.LoadContext(ctx, id)
}

// Save implements fixup.SnapshotStore.
func (s *PGStore) Save(id uuid.UUID, snap *fixup.EdgeSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.SaveContext(ctx, id, snap)
}

// LoadContext reads the snapshot of a raster. It returns
// fixup.ErrSnapshotNotFound when there is none.
func (s *PGStore) LoadContext(ctx context.Context, id uuid.UUID) (*fixup.EdgeSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM edge_snapshots WHERE raster_id = $1`, id.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", fixup.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot %s: %w", id, err)
	}

	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", id, err)
	}
	var snap fixup.EdgeSnapshot
	if err := snap.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// SaveContext upserts the snapshot of a raster.
func (s *PGStore) SaveContext(ctx context.Context, id uuid.UUID, snap *fixup.EdgeSnapshot) error {
	raw, err := snap.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	data, err := compress(raw)
	if err != nil {
		return fmt.Errorf("compress snapshot %s: %w", id, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO edge_snapshots (raster_id, edge_length, mip_count, data, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (raster_id) DO UPDATE
		 SET edge_length = EXCLUDED.edge_length,
		     mip_count = EXCLUDED.mip_count,
		     data = EXCLUDED.data,
		     updated_at = EXCLUDED.updated_at`,
		id.String(), snap.EdgeLength, snap.MipCount, data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", id, err)
	}
	s.log.Debug("snapshot saved", zap.Stringer("raster", id), zap.Int("stored_bytes", len(data)))
	return nil
}

// Delete removes the snapshot of a raster. Missing rows are not an error.
func (s *PGStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM edge_snapshots WHERE raster_id = $1`, id.String()); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

// List returns the ids of every stored snapshot.
func (s *PGStore) List(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT raster_id::text FROM edge_snapshots ORDER BY raster_id`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var text string
		if err := row.Scan(&text); err != nil {
			return uuid.Nil, err
		}
		return uuid.Parse(text)
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return ids, nil
}
