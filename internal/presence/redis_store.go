package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "listeners:"
	indexKey        = "listeners:index"
	eventsChannel   = "listeners:events"

	// recordTTLFactor sizes the per-key TTL backstop relative to the
	// staleness threshold, so orphaned records expire even if neither the
	// pruner nor a disconnect hook ever runs.
	recordTTLFactor = 4

	opTimeout = 5 * time.Second
)

// RedisStore is the Redis-backed Store shared by all server instances.
// Each record is a JSON value under listeners:<session_id>; the liveness
// index is a sorted set scored by UpdatedAt; changes fan out to subscribers
// on every instance through pub/sub.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	stale  time.Duration

	mu      sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
	cancel  context.CancelFunc

	dispatchMu sync.Mutex
}

// NewRedisStore creates a Redis-backed presence store. stale sizes the TTL
// backstop on records; it should match the deployment's staleness threshold.
func NewRedisStore(client *redis.Client, stale time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		stale:  stale,
		subs:   make(map[int]func(Snapshot)),
	}
}

func recordKey(sessionID string) string {
	return recordKeyPrefix + sessionID
}

// Write upserts the full record for a session.
func (s *RedisStore) Write(ctx context.Context, sessionID string, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(sessionID), data, recordTTLFactor*s.stale)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(rec.UpdatedAt), Member: sessionID})
	pipe.Publish(ctx, eventsChannel, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// Merge updates named fields only; the session is the exclusive writer of its
// own key, so read-modify-write here is race-free by construction.
func (s *RedisStore) Merge(ctx context.Context, sessionID string, p Patch) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rec, err := s.getRecord(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Online: true, JoinedAt: s.Now(ctx)}
	}
	if p.UpdatedAt != nil {
		rec.UpdatedAt = *p.UpdatedAt
	}
	if p.NowPlaying != nil {
		rec.NowPlaying = p.NowPlaying
	} else if p.ClearNowPlaying {
		rec.NowPlaying = nil
	}
	return s.Write(ctx, sessionID, *rec)
}

// getRecord fetches and decodes a single record; nil if absent.
func (s *RedisStore) getRecord(ctx context.Context, sessionID string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode presence record: %w", err)
	}
	return &rec, nil
}

// Remove deletes the record.
func (s *RedisStore) Remove(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(sessionID))
	pipe.ZRem(ctx, indexKey, sessionID)
	pipe.Publish(ctx, eventsChannel, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// OnDisconnectRemove is a no-op here: Redis has no connection-scoped delete
// rule, so the realtime layer owns the hook (it calls Remove when the
// client's WebSocket drops) and the TTL backstop covers server crashes.
func (s *RedisStore) OnDisconnectRemove(context.Context, string) error {
	return nil
}

// Subscribe registers a snapshot callback; fires immediately with the current
// snapshot and again whenever any instance changes any record.
func (s *RedisStore) Subscribe(fn func(Snapshot)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		if err := s.listen(ctx); err != nil {
			cancel()
			delete(s.subs, id)
			s.mu.Unlock()
			return nil, err
		}
		s.cancel = cancel
	}
	s.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	snap, err := s.Load(loadCtx)
	if err != nil {
		s.logger.Warn("initial presence snapshot", zap.Error(err))
		snap = Snapshot{}
	}
	s.dispatch(snap, []func(Snapshot){fn})

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		if len(s.subs) == 0 && s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}, nil
}

// listen starts the pub/sub loop that reloads and fans out the snapshot on
// every change event. Caller holds s.mu.
func (s *RedisStore) listen(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe presence events: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				loadCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
				snap, err := s.Load(loadCtx)
				cancel()
				if err != nil {
					// View stays at the last known snapshot until the next
					// event delivers a fresh one.
					s.logger.Warn("reload presence snapshot", zap.Error(err))
					continue
				}
				s.mu.Lock()
				subs := make([]func(Snapshot), 0, len(s.subs))
				for _, fn := range s.subs {
					subs = append(subs, fn)
				}
				s.mu.Unlock()
				s.dispatch(snap, subs)
			}
		}
	}()
	return nil
}

// Load returns the current snapshot: all ids in the index plus their records.
func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence index: %w", err)
	}
	snap := make(Snapshot, len(ids))
	if len(ids) == 0 {
		return snap, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence records: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Key expired between ZRANGE and MGET; the next prune drops the
			// index entry.
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("corrupt presence record", zap.String("session_id", ids[i]), zap.Error(err))
			continue
		}
		snap[ids[i]] = rec
	}
	return snap, nil
}

// Now returns the Redis server clock in unix milliseconds, falling back to
// the local clock if the round-trip fails.
func (s *RedisStore) Now(ctx context.Context) int64 {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

// Prune removes records whose UpdatedAt score is older than the cutoff.
func (s *RedisStore) Prune(ctx context.Context, olderThan int64) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", olderThan),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale presence: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, indexKey, members...)
	pipe.Publish(ctx, eventsChannel, "prune")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("prune presence: %w", err)
	}
	return len(ids), nil
}

func (s *RedisStore) dispatch(snap Snapshot, subs []func(Snapshot)) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
