package store

import (
	"context"
	"fmt"

	"github.com/dkeye/tempvoice/internal/config"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/rs/zerolog/log"
)

// Open builds the registry driver named by cfg.Driver. The returned close
// func releases its connections.
func Open(ctx context.Context, cfg config.StoreConfig) (core.RoomStore, func(), error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		log.Warn().Str("module", "store").Msg("using in-memory registry, records are lost on restart")
		return NewMemory(), func() {}, nil
	case config.DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverRedis:
		s, err := OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Str("module", "store").Msg("close redis")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
