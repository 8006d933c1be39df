package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultKeyPrefix = "tempvoice:"

// Redis is a RoomStore backed by Redis hashes and sets:
//
//	<prefix>master:<community>                hash  room_id, enabled, updated_at
//	<prefix>room:<room>                       hash  community_id, owner_id, created_at
//	<prefix>rooms                             set   every room id
//	<prefix>community:<community>:rooms       set   room ids per community
//	<prefix>owner:<community>:<member>:rooms  set   room ids per owner
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// OpenRedis connects and pings.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(rdb, prefix), nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func (s *Redis) masterKey(c domain.CommunityID) string { return s.prefix + "master:" + string(c) }
func (s *Redis) roomKey(r domain.RoomID) string        { return s.prefix + "room:" + string(r) }
func (s *Redis) allRoomsKey() string                  { return s.prefix + "rooms" }
func (s *Redis) communityKey(c domain.CommunityID) string {
	return s.prefix + "community:" + string(c) + ":rooms"
}
func (s *Redis) ownerKey(c domain.CommunityID, m domain.MemberID) string {
	return s.prefix + "owner:" + string(c) + ":" + string(m) + ":rooms"
}

func (s *Redis) GetMasterConfig(ctx context.Context, community domain.CommunityID) (*domain.MasterRoomConfig, error) {
	vals, err := s.rdb.HGetAll(ctx, s.masterKey(community)).Result()
	if err != nil {
		return nil, fmt.Errorf("get master config %s: %w", community, err)
	}
	if len(vals) == 0 {
		return nil, core.ErrNotConfigured
	}
	cfg := &domain.MasterRoomConfig{
		CommunityID:  community,
		MasterRoomID: domain.RoomID(vals["room_id"]),
		Enabled:      vals["enabled"] == "1",
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		cfg.UpdatedAt = ts
	}
	return cfg, nil
}

func (s *Redis) SetMasterConfig(ctx context.Context, community domain.CommunityID, room domain.RoomID, enabled bool) error {
	flag := "0"
	if enabled {
		flag = "1"
	}
	err := s.rdb.HSet(ctx, s.masterKey(community), map[string]any{
		"room_id":    string(room),
		"enabled":    flag,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("set master config %s: %w", community, err)
	}
	return nil
}

func (s *Redis) InsertEphemeralRoom(ctx context.Context, rec domain.EphemeralRoom) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.roomKey(rec.RoomID), map[string]any{
			"community_id": string(rec.CommunityID),
			"owner_id":     string(rec.OwnerID),
			"created_at":   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, s.allRoomsKey(), string(rec.RoomID))
		pipe.SAdd(ctx, s.communityKey(rec.CommunityID), string(rec.RoomID))
		pipe.SAdd(ctx, s.ownerKey(rec.CommunityID, rec.OwnerID), string(rec.RoomID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert ephemeral room %s: %w", rec.RoomID, err)
	}
	return nil
}

func (s *Redis) DeleteEphemeralRoom(ctx context.Context, room domain.RoomID) error {
	vals, err := s.rdb.HGetAll(ctx, s.roomKey(room)).Result()
	if err != nil {
		return fmt.Errorf("delete ephemeral room %s: %w", room, err)
	}
	community := domain.CommunityID(vals["community_id"])
	owner := domain.MemberID(vals["owner_id"])
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.roomKey(room))
		pipe.SRem(ctx, s.allRoomsKey(), string(room))
		if len(vals) > 0 {
			pipe.SRem(ctx, s.communityKey(community), string(room))
			pipe.SRem(ctx, s.ownerKey(community, owner), string(room))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete ephemeral room %s: %w", room, err)
	}
	return nil
}

func (s *Redis) ListEphemeralRooms(ctx context.Context) ([]domain.EphemeralRoom, error) {
	return s.listSet(ctx, s.allRoomsKey())
}

func (s *Redis) ListCommunityRooms(ctx context.Context, community domain.CommunityID) ([]domain.EphemeralRoom, error) {
	return s.listSet(ctx, s.communityKey(community))
}

func (s *Redis) listSet(ctx context.Context, key string) ([]domain.EphemeralRoom, error) {
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list ephemeral rooms: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.roomKey(domain.RoomID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ephemeral rooms: %w", err)
	}
	out := make([]domain.EphemeralRoom, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			log.Warn().Str("module", "store.redis").Str("room", ids[i]).Msg("dangling room id in set")
			continue
		}
		rec := domain.EphemeralRoom{
			RoomID:      domain.RoomID(ids[i]),
			CommunityID: domain.CommunityID(vals["community_id"]),
			OwnerID:     domain.MemberID(vals["owner_id"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, vals["created_at"]); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	sortRooms(out)
	return out, nil
}

func (s *Redis) CountOwnedRooms(ctx context.Context, community domain.CommunityID, owner domain.MemberID) (int, error) {
	n, err := s.rdb.SCard(ctx, s.ownerKey(community, owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("count owned rooms: %w", err)
	}
	return int(n), nil
}
