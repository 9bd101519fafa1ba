package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
)

const redisKeyPrefix = "suitesync"

// RedisStore implements Store on top of Redis: one JSON value per record
// plus a per-type id set used to answer queries. Record sets are small by
// design (a suite, its concerts, its tokens), so queries fetch the type's
// records and filter client-side.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed store and verifies the connection.
func NewRedisStore(addr, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.NotAvailable("failed to connect to record store", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

func recordKey(typ RecordType, id string) string {
	return fmt.Sprintf("%s:rec:%s:%s", redisKeyPrefix, typ, id)
}

func idSetKey(typ RecordType) string {
	return fmt.Sprintf("%s:ids:%s", redisKeyPrefix, typ)
}

// Fetch returns the record, or RecordNotFound.
func (s *RedisStore) Fetch(ctx context.Context, typ RecordType, id string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(typ, id)).Bytes()
	if err == redis.Nil {
		return nil, errors.RecordNotFound(string(typ), id)
	}
	if err != nil {
		return nil, errors.NetworkUnavailable("record fetch failed", err)
	}

	rec := NewRecord(typ, id)
	if err := json.Unmarshal(data, &rec.Fields); err != nil {
		return nil, errors.ServerError("corrupt record in store", err).
			WithDetail("record_id", id)
	}
	return rec, nil
}

// Save overwrites the record and registers its id in the type's id set.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.ServerError("record id is empty", nil)
	}
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.ServerError("failed to marshal record", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(rec.Type, rec.ID), data, 0)
	pipe.SAdd(ctx, idSetKey(rec.Type), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NetworkUnavailable("record save failed", err)
	}

	s.logger.Debug("Record saved",
		zap.String("type", string(rec.Type)),
		zap.String("record_id", rec.ID))
	return nil
}

// Delete removes the record and its id-set entry.
func (s *RedisStore) Delete(ctx context.Context, typ RecordType, id string) error {
	removed, err := s.client.Del(ctx, recordKey(typ, id)).Result()
	if err != nil {
		return errors.NetworkUnavailable("record delete failed", err)
	}
	if removed == 0 {
		return errors.RecordNotFound(string(typ), id)
	}
	if err := s.client.SRem(ctx, idSetKey(typ), id).Err(); err != nil {
		return errors.NetworkUnavailable("record index update failed", err)
	}

	s.logger.Debug("Record deleted",
		zap.String("type", string(typ)),
		zap.String("record_id", id))
	return nil
}

// Query fetches the type's records by id set and filters on the field.
func (s *RedisStore) Query(ctx context.Context, typ RecordType, field string, value interface{}) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, idSetKey(typ)).Result()
	if err != nil {
		return nil, errors.NetworkUnavailable("record query failed", err)
	}

	var out []*Record
	for _, id := range ids {
		rec, err := s.Fetch(ctx, typ, id)
		if err != nil {
			if errors.IsNotFound(err) {
				// Stale id-set entry: the record was deleted out from
				// under the index. Skip it.
				continue
			}
			return nil, err
		}
		if fieldEquals(rec.Fields[field], value) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
