// Package redis stores document rosters in Redis hashes so several server
// processes can report the same participant list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/mindsync/internal/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RosterStore implements store.RosterStore. Each room is one hash at
// <prefix>room:<documentId> with a JSON participant per connection id.
type RosterStore struct {
	rdb    *redis.Client
	prefix string
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, opts Options) (*RosterStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return New(rdb, opts.KeyPrefix), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *RosterStore {
	return &RosterStore{rdb: rdb, prefix: prefix}
}

func (s *RosterStore) key(documentID string) string {
	return s.prefix + "room:" + documentID
}

// AddParticipant writes p and reads back the room in one transaction.
func (s *RosterStore) AddParticipant(ctx context.Context, documentID string, p store.Participant) ([]store.Participant, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode participant: %w", err)
	}

	key := s.key(documentID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, p.ConnID, raw)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	return decodeRoster(all.Val())
}

// RemoveParticipant deletes connID. Redis drops the hash with its last field.
func (s *RosterStore) RemoveParticipant(ctx context.Context, documentID, connID string) (bool, []store.Participant, error) {
	key := s.key(documentID)
	pipe := s.rdb.TxPipeline()
	del := pipe.HDel(ctx, key, connID)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, nil, fmt.Errorf("remove participant: %w", err)
	}
	roster, err := decodeRoster(all.Val())
	if err != nil {
		return false, nil, err
	}
	return del.Val() > 0, roster, nil
}

// UpdateCursor rewrites the participant record of connID with a new cursor.
// The read-modify-write runs under WATCH so a concurrent leave is never
// undone by a late cursor write.
func (s *RosterStore) UpdateCursor(ctx context.Context, documentID, connID string, cursor store.Cursor) error {
	key := s.key(documentID)
	update := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, connID).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return fmt.Errorf("load participant: %w", err)
		}

		var p store.Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		p.Cursor = &cursor

		raw, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode participant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, connID, raw)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("store cursor: %w", err)
		}
		return err
	}
	return fmt.Errorf("store cursor: %w", redis.TxFailedErr)
}

const maxWatchRetries = 3

// Roster lists the participants of a room.
func (s *RosterStore) Roster(ctx context.Context, documentID string) ([]store.Participant, error) {
	all, err := s.rdb.HGetAll(ctx, s.key(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return decodeRoster(all)
}

// Close closes the client.
func (s *RosterStore) Close() error {
	return s.rdb.Close()
}

func decodeRoster(fields map[string]string) ([]store.Participant, error) {
	out := make([]store.Participant, 0, len(fields))
	for connID, raw := range fields {
		var p store.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", connID, err)
		}
		out = append(out, p)
	}
	store.SortParticipants(out)
	return out, nil
}

var _ store.RosterStore = (*RosterStore)(nil)
