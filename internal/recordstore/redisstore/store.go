// Package redisstore keeps records as JSON documents with sorted-set timelines
// scored by timestamp in microseconds.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// mgetBatch bounds the keys fetched per MGET round trip.
const mgetBatch = 500

// insertScript writes a document and its timeline entries in one step.
// KEYS[1] is the document, KEYS[2:] the timelines; ARGV is payload, score, id.
// Every precondition is checked before the first write so a failure leaves
// nothing behind. Returns 0 when the document already exists.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #KEYS do
  local t = redis.call('TYPE', KEYS[i])['ok']
  if t ~= 'none' and t ~= 'zset' then
    return redis.error_reply('WRONGTYPE timeline ' .. KEYS[i] .. ' holds ' .. t)
  end
end
for i = 2, #KEYS do
  redis.call('ZADD', KEYS[i], ARGV[2], ARGV[3])
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Store implements recordstore.ReadWriter on Redis.
//
// Layout, relative to the key prefix:
//
//	interaction:<id>                  JSON record
//	interactions                      ZSET id -> ts (µs)
//	interactions:model:<model>        ZSET id -> ts
//	interactions:status:<status>      ZSET id -> ts
//	workflow:<id>                     JSON record, steps inline
//	workflows                         ZSET id -> start (µs)
//	workflows:status:<status>         ZSET id -> start
//
// Queries with at most one equality filter are answered from a timeline;
// everything else loads the window and evaluates in process.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ recordstore.ReadWriter = (*Store)(nil)

// New constructs a store. prefix namespaces every key.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) InsertInteraction(ctx context.Context, rec models.InteractionRecord) error {
	if err := models.ValidateInteraction(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	keys := []string{
		s.key("interaction", rec.ID),
		s.key("interactions"),
		s.key("interactions", "model", rec.Model),
		s.key("interactions", "status", rec.Status),
	}
	return s.insert(ctx, "interaction", rec.ID, keys, data, rec.Timestamp)
}

func (s *Store) InsertWorkflow(ctx context.Context, rec models.WorkflowRecord) error {
	if err := models.ValidateWorkflow(rec); err != nil {
		return err
	}
	if rec.Steps == nil {
		rec.Steps = []models.StepRecord{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	keys := []string{
		s.key("workflow", rec.ID),
		s.key("workflows"),
		s.key("workflows", "status", rec.Status),
	}
	return s.insert(ctx, "workflow", rec.ID, keys, data, rec.StartTime)
}

func (s *Store) insert(ctx context.Context, kind, id string, keys []string, data []byte, ts time.Time) error {
	created, err := insertScript.Run(ctx, s.client, keys, data, score(ts), id).Int()
	if err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s %s", recordstore.ErrDuplicate, kind, id)
	}
	return nil
}

// timeline picks the sorted set that answers filter on its own. ok is false
// when more than one equality filter is set.
func (s *Store) timeline(kind recordstore.Kind, filter recordstore.Filter) (key string, ok bool, empty bool) {
	switch kind {
	case recordstore.KindInteraction:
		switch {
		case filter.Model != "" && filter.Status != "":
			return "", false, false
		case filter.Model != "":
			return s.key("interactions", "model", filter.Model), true, false
		case filter.Status != "":
			return s.key("interactions", "status", filter.Status), true, false
		default:
			return s.key("interactions"), true, false
		}
	default:
		if filter.Model != "" {
			return "", true, true
		}
		if filter.Status != "" {
			return s.key("workflows", "status", filter.Status), true, false
		}
		return s.key("workflows"), true, false
	}
}

func (s *Store) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	key, ok, empty := s.timeline(kind, filter)
	if empty {
		return 0, nil
	}
	if !ok {
		recs, err := s.loadInteractions(ctx, filter)
		if err != nil {
			return 0, err
		}
		return int64(len(recs)), nil
	}
	lo, hi := scoreRange(filter)
	n, err := s.client.ZCount(ctx, key, lo, hi).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

func (s *Store) ListInteractions(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.InteractionRecord, error) {
	key, ok, _ := s.timeline(recordstore.KindInteraction, filter)
	if !ok {
		recs, err := s.loadInteractions(ctx, filter)
		if err != nil {
			return nil, err
		}
		recordstore.SortInteractions(recs, order)
		return recordstore.Window(recs, offset, limit), nil
	}
	ids, err := s.rangeIDs(ctx, key, filter, order, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.InteractionRecord, 0, len(ids))
	err = s.fetch(ctx, "interaction", ids, func(raw []byte) error {
		var rec models.InteractionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode interaction: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) ListWorkflows(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.WorkflowRecord, error) {
	key, _, empty := s.timeline(recordstore.KindWorkflow, filter)
	if empty {
		return []models.WorkflowRecord{}, nil
	}
	ids, err := s.rangeIDs(ctx, key, filter, order, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.WorkflowRecord, 0, len(ids))
	err = s.fetch(ctx, "workflow", ids, func(raw []byte) error {
		var rec models.WorkflowRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	if err := recordstore.ValidateQuery(kind, groupBy, aggregates); err != nil {
		return nil, err
	}
	if kind == recordstore.KindInteraction {
		recs, err := s.loadInteractions(ctx, filter)
		if err != nil {
			return nil, err
		}
		return recordstore.GroupInteractions(recs, groupBy, aggregates)
	}
	recs, err := s.ListWorkflows(ctx, filter, recordstore.OrderOldestFirst, 0, 0)
	if err != nil {
		return nil, err
	}
	return recordstore.GroupWorkflows(recs, groupBy, aggregates)
}

func (s *Store) GetInteraction(ctx context.Context, id string) (models.InteractionRecord, error) {
	raw, err := s.client.Get(ctx, s.key("interaction", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.InteractionRecord{}, recordstore.ErrNotFound
		}
		return models.InteractionRecord{}, fmt.Errorf("get interaction: %w", err)
	}
	var rec models.InteractionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.InteractionRecord{}, fmt.Errorf("decode interaction: %w", err)
	}
	return rec, nil
}

// loadInteractions reads every interaction in the window from the most
// selective timeline and applies the full filter in process.
func (s *Store) loadInteractions(ctx context.Context, filter recordstore.Filter) ([]models.InteractionRecord, error) {
	key := s.key("interactions")
	if filter.Model != "" {
		key = s.key("interactions", "model", filter.Model)
	}
	ids, err := s.rangeIDs(ctx, key, filter, recordstore.OrderOldestFirst, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.InteractionRecord, 0, len(ids))
	err = s.fetch(ctx, "interaction", ids, func(raw []byte) error {
		var rec models.InteractionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode interaction: %w", err)
		}
		if recordstore.MatchInteraction(filter, rec) {
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) rangeIDs(ctx context.Context, key string, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]string, error) {
	lo, hi := scoreRange(filter)
	by := &redis.ZRangeBy{Min: lo, Max: hi}
	if limit > 0 {
		by.Offset = int64(max(offset, 0))
		by.Count = int64(limit)
	}
	var (
		ids []string
		err error
	)
	if order == recordstore.OrderOldestFirst {
		ids, err = s.client.ZRangeByScore(ctx, key, by).Result()
	} else {
		ids, err = s.client.ZRevRangeByScore(ctx, key, by).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	if limit <= 0 {
		ids = recordstore.Window(ids, offset, 0)
	}
	return ids, nil
}

// fetch MGETs documents in batches, preserving id order and skipping ids
// whose documents have vanished.
func (s *Store) fetch(ctx context.Context, kind string, ids []string, decode func([]byte) error) error {
	for start := 0; start < len(ids); start += mgetBatch {
		end := min(start+mgetBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.key(kind, id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("fetch %s records: %w", kind, err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			if err := decode([]byte(raw)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkKind(kind recordstore.Kind) error {
	switch kind {
	case recordstore.KindInteraction, recordstore.KindWorkflow:
		return nil
	}
	return fmt.Errorf("%w: kind %q", recordstore.ErrUnsupportedField, kind)
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// scoreRange converts the closed filter range to ZSET bounds. Microsecond
// scores stay exact in a float64 for any realistic date.
func scoreRange(filter recordstore.Filter) (string, string) {
	lo, hi := "-inf", "+inf"
	if !filter.Start.IsZero() {
		us := filter.Start.UnixMicro()
		if filter.Start.Nanosecond()%1000 != 0 {
			us++
		}
		lo = strconv.FormatInt(us, 10)
	}
	if !filter.End.IsZero() {
		hi = strconv.FormatInt(filter.End.UnixMicro(), 10)
	}
	return lo, hi
}
