package cli

import (
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/cache"
	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/store"
)

// services holds the optional backing services of a command
type services struct {
	cache *cache.VectorCache
	store *store.Store
}

// openServices connects to Redis and PostgreSQL when they are enabled
func (a *app) openServices(withCache, withStore bool) (*services, error) {
	s := &services{}

	if withCache {
		a.log.Info("Initializing embedding cache...")
		vc, err := cache.NewVectorCache(&a.cfg.Cache, a.log.WithComponent("cache").Logger)
		if err != nil {
			return nil, err
		}
		s.cache = vc
	}

	if withStore {
		a.log.Info("Initializing vector store...")
		st, err := store.NewStore(&a.cfg.Store, a.log.WithComponent("store").Logger)
		if err != nil {
			s.close(a.log.Logger)
			return nil, err
		}
		s.store = st
	}

	return s, nil
}

// vectorCache returns the cache as the driver interface, nil when disabled
func (s *services) vectorCache() embeddings.VectorCache {
	if s.cache == nil {
		return nil
	}
	return s.cache
}

func (s *services) close(log *zap.Logger) {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Warn("Failed to close cache", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}
}
