package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS master_rooms (
		community_id   TEXT PRIMARY KEY,
		master_room_id TEXT NOT NULL,
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ephemeral_rooms (
		room_id      TEXT PRIMARY KEY,
		community_id TEXT NOT NULL,
		owner_id     TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ephemeral_rooms_owner ON ephemeral_rooms (community_id, owner_id)`,
}

// Postgres is a RoomStore backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgres(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("module", "store.postgres").Msg("schema ready")
	return nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) GetMasterConfig(ctx context.Context, community domain.CommunityID) (*domain.MasterRoomConfig, error) {
	const q = `SELECT master_room_id, enabled, updated_at FROM master_rooms WHERE community_id = $1`
	var (
		roomID    string
		enabled   bool
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, q, string(community)).Scan(&roomID, &enabled, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("get master config %s: %w", community, err)
	}
	return &domain.MasterRoomConfig{
		CommunityID:  community,
		MasterRoomID: domain.RoomID(roomID),
		Enabled:      enabled,
		UpdatedAt:    updatedAt,
	}, nil
}

func (s *Postgres) SetMasterConfig(ctx context.Context, community domain.CommunityID, room domain.RoomID, enabled bool) error {
	const q = `
		INSERT INTO master_rooms (community_id, master_room_id, enabled, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (community_id) DO UPDATE
		SET master_room_id = EXCLUDED.master_room_id,
		    enabled = EXCLUDED.enabled,
		    updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, string(community), string(room), enabled); err != nil {
		return fmt.Errorf("set master config %s: %w", community, err)
	}
	return nil
}

func (s *Postgres) InsertEphemeralRoom(ctx context.Context, rec domain.EphemeralRoom) error {
	const q = `
		INSERT INTO ephemeral_rooms (room_id, community_id, owner_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, string(rec.RoomID), string(rec.CommunityID), string(rec.OwnerID), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ephemeral room %s: %w", rec.RoomID, err)
	}
	return nil
}

func (s *Postgres) DeleteEphemeralRoom(ctx context.Context, room domain.RoomID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ephemeral_rooms WHERE room_id = $1`, string(room)); err != nil {
		return fmt.Errorf("delete ephemeral room %s: %w", room, err)
	}
	return nil
}

func (s *Postgres) ListEphemeralRooms(ctx context.Context) ([]domain.EphemeralRoom, error) {
	const q = `SELECT room_id, community_id, owner_id, created_at FROM ephemeral_rooms ORDER BY created_at, room_id`
	return s.listRooms(ctx, q)
}

func (s *Postgres) ListCommunityRooms(ctx context.Context, community domain.CommunityID) ([]domain.EphemeralRoom, error) {
	const q = `
		SELECT room_id, community_id, owner_id, created_at FROM ephemeral_rooms
		WHERE community_id = $1 ORDER BY created_at, room_id`
	return s.listRooms(ctx, q, string(community))
}

func (s *Postgres) listRooms(ctx context.Context, q string, args ...any) ([]domain.EphemeralRoom, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list ephemeral rooms: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanEphemeralRoom)
	if err != nil {
		return nil, fmt.Errorf("scan ephemeral rooms: %w", err)
	}
	return recs, nil
}

func scanEphemeralRoom(row pgx.CollectableRow) (domain.EphemeralRoom, error) {
	var (
		roomID, communityID, ownerID string
		createdAt                    time.Time
	)
	if err := row.Scan(&roomID, &communityID, &ownerID, &createdAt); err != nil {
		return domain.EphemeralRoom{}, err
	}
	return domain.EphemeralRoom{
		RoomID:      domain.RoomID(roomID),
		CommunityID: domain.CommunityID(communityID),
		OwnerID:     domain.MemberID(ownerID),
		CreatedAt:   createdAt,
	}, nil
}

func (s *Postgres) CountOwnedRooms(ctx context.Context, community domain.CommunityID, owner domain.MemberID) (int, error) {
	const q = `SELECT count(*) FROM ephemeral_rooms WHERE community_id = $1 AND owner_id = $2`
	var n int
	if err := s.pool.QueryRow(ctx, q, string(community), string(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count owned rooms: %w", err)
	}
	return n, nil
}
