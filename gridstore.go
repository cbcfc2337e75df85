package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"
)

var errGridNotFound = errors.New("grid not found")

// Grid is one saved statement set: five statements about its owner, exactly
// one true. Statement order is preserved verbatim from save time.
type Grid struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Statements []string  `json:"statements"`
	TrueIndex  int       `json:"trueStatementIndex"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GridStore is the document store consulted, never owned, by the game core.
// Implementations must respect context cancellation so a stuck lookup can't
// wedge a session.
type GridStore interface {
	SaveGrid(ctx context.Context, user UserID, grid Grid) (Grid, error)
	FetchGrids(ctx context.Context, user UserID) ([]Grid, error)
	FetchGridByID(ctx context.Context, user UserID, gridID string) (Grid, error)
	DeleteGrid(ctx context.Context, user UserID, gridID string) error
}

const (
	gridsBucket   = "grids"
	gridCacheSize = 512
)

// boltGridStore keeps grids in a bbolt file, one nested bucket per user,
// with an LRU cache in front of single-grid reads since those run once per
// round.
type boltGridStore struct {
	db    *bolt.DB
	cache *lru.Cache
}

func newBoltGridStore(path string) (*boltGridStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening grid store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(gridsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing grid store: %w", err)
	}

	cache, err := lru.New(gridCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &boltGridStore{db: db, cache: cache}, nil
}

func (s *boltGridStore) Close() error {
	return s.db.Close()
}

func gridCacheKey(user UserID, gridID string) string {
	return string(user) + "/" + gridID
}

func (s *boltGridStore) SaveGrid(ctx context.Context, user UserID, grid Grid) (Grid, error) {
	if err := ctx.Err(); err != nil {
		return Grid{}, err
	}

	grid.ID = uuid.NewString()
	grid.CreatedAt = time.Now()

	value, err := json.Marshal(grid)
	if err != nil {
		return Grid{}, err
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(gridsBucket)).CreateBucketIfNotExists([]byte(user))
		if err != nil {
			return fmt.Errorf("creating user bucket: %w", err)
		}
		return b.Put([]byte(grid.ID), value)
	}); err != nil {
		return Grid{}, fmt.Errorf("storing grid: %w", err)
	}

	s.cache.Add(gridCacheKey(user, grid.ID), grid)

	return grid, nil
}

func (s *boltGridStore) FetchGrids(ctx context.Context, user UserID) ([]Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grids := []Grid{}
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(gridsBucket)).Bucket([]byte(user))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var g Grid
			if err := json.Unmarshal(v, &g); err != nil {
				return fmt.Errorf("decoding grid: %w", err)
			}
			grids = append(grids, g)
			return nil
		})
	}); err != nil {
		return nil, fmt.Errorf("listing grids: %w", err)
	}

	return grids, nil
}

func (s *boltGridStore) FetchGridByID(ctx context.Context, user UserID, gridID string) (Grid, error) {
	if err := ctx.Err(); err != nil {
		return Grid{}, err
	}

	if v, ok := s.cache.Get(gridCacheKey(user, gridID)); ok {
		return v.(Grid), nil
	}

	var grid Grid
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(gridsBucket)).Bucket([]byte(user))
		if b == nil {
			return errGridNotFound
		}

		value := b.Get([]byte(gridID))
		if value == nil {
			return errGridNotFound
		}

		return json.Unmarshal(value, &grid)
	}); err != nil {
		if errors.Is(err, errGridNotFound) {
			return Grid{}, errGridNotFound
		}
		return Grid{}, fmt.Errorf("fetching grid: %w", err)
	}

	s.cache.Add(gridCacheKey(user, gridID), grid)

	return grid, nil
}

func (s *boltGridStore) DeleteGrid(ctx context.Context, user UserID, gridID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(gridsBucket)).Bucket([]byte(user))
		if b == nil || b.Get([]byte(gridID)) == nil {
			return errGridNotFound
		}
		return b.Delete([]byte(gridID))
	}); err != nil {
		if errors.Is(err, errGridNotFound) {
			return errGridNotFound
		}
		return fmt.Errorf("deleting grid: %w", err)
	}

	s.cache.Remove(gridCacheKey(user, gridID))

	return nil
}
