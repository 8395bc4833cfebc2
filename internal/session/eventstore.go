// Package session implements the Streaming Session Layer (§4.4): session
// lifecycle, a per-session append-only event log, and the three-verb HTTP
// transport (§6.3) that wraps JSON-RPC calls in resumable event streams.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/northcloud/jobforge/internal/domain"
)

// ErrSequenceNotFound signals that a requested Last-Event-ID is absent from
// the retained log — per §4.4.1 the caller replays from the beginning.
var ErrSequenceNotFound = errors.New("session: event id not found in retained log")

// EventStore is the per-session ordered append-only log of §4.4.2: append,
// read-since(last_event_id | none), remove-session.
type EventStore interface {
	Append(ctx context.Context, sessionID string, eventType domain.EventType, data domain.JSONDoc) (domain.Event, error)
	ReadSince(ctx context.Context, sessionID string, lastEventID string) ([]domain.Event, error)
	RemoveSession(ctx context.Context, sessionID string) error
}

// RedisEventStore stores each session's log as a Redis Stream, grounded on
// crawler/internal/logs.RedisStreamWriter's XAdd/XRange/XRead usage — here
// the stream's own entry ID doubles as the strictly-increasing sequence
// (§4.4.3), and MaxEventsPerSession is enforced via XAdd's approximate MAXLEN
// trim rather than a separate sweep.
type RedisEventStore struct {
	client              *redis.Client
	keyPrefix           string
	maxEventsPerSession int64
}

func NewRedisEventStore(client *redis.Client, keyPrefix string, maxEventsPerSession int) *RedisEventStore {
	if keyPrefix == "" {
		keyPrefix = "jobforge:session"
	}
	if maxEventsPerSession <= 0 {
		maxEventsPerSession = 1000
	}
	return &RedisEventStore{
		client:              client,
		keyPrefix:           keyPrefix,
		maxEventsPerSession: int64(maxEventsPerSession),
	}
}

func (s *RedisEventStore) streamKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:events", s.keyPrefix, sessionID)
}

// Append writes one event, trimming the stream's oldest entries toward
// maxEventsPerSession as part of the same XADD; the MAXLEN trim is
// approximate, so the stream may hold somewhat more entries than that.
func (s *RedisEventStore) Append(ctx context.Context, sessionID string, eventType domain.EventType, data domain.JSONDoc) (domain.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("session: marshal event data: %w", err)
	}

	now := time.Now().UTC()
	args := &redis.XAddArgs{
		Stream: s.streamKey(sessionID),
		MaxLen: s.maxEventsPerSession,
		Approx: true,
		Values: map[string]any{
			"id":         uuid.NewString(),
			"event_type": string(eventType),
			"data":       string(payload),
			"timestamp":  now.Format(time.RFC3339Nano),
		},
	}

	streamID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return domain.Event{}, fmt.Errorf("session: xadd: %w", err)
	}

	seq, err := sequenceOf(streamID)
	if err != nil {
		return domain.Event{}, err
	}

	return domain.Event{
		ID:        streamID,
		SessionID: sessionID,
		EventType: eventType,
		Data:      data,
		Timestamp: now,
		Sequence:  seq,
	}, nil
}

// ReadSince returns events after lastEventID, or the full retained log if
// lastEventID is empty. If lastEventID is non-empty but absent from the
// stream (trimmed or never existed), it returns ErrSequenceNotFound so the
// transport can fall back to a full replay (§4.4.1).
func (s *RedisEventStore) ReadSince(ctx context.Context, sessionID string, lastEventID string) ([]domain.Event, error) {
	key := s.streamKey(sessionID)

	start := "-"
	if lastEventID != "" {
		exists, err := s.exists(ctx, key, lastEventID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrSequenceNotFound
		}
		start = "(" + lastEventID
	}

	messages, err := s.client.XRange(ctx, key, start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("session: xrange: %w", err)
	}

	events := make([]domain.Event, 0, len(messages))
	for _, msg := range messages {
		ev, err := parseMessage(sessionID, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *RedisEventStore) exists(ctx context.Context, key, streamID string) (bool, error) {
	msgs, err := s.client.XRange(ctx, key, streamID, streamID).Result()
	if err != nil {
		return false, fmt.Errorf("session: xrange exists check: %w", err)
	}
	return len(msgs) > 0, nil
}

func (s *RedisEventStore) RemoveSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.streamKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: delete stream: %w", err)
	}
	return nil
}

func parseMessage(sessionID string, msg redis.XMessage) (domain.Event, error) {
	ev := domain.Event{ID: msg.ID, SessionID: sessionID}

	if v, ok := msg.Values["event_type"].(string); ok {
		ev.EventType = domain.EventType(v)
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			ev.Timestamp = t
		}
	}
	if v, ok := msg.Values["data"].(string); ok && v != "" {
		var data domain.JSONDoc
		if err := json.Unmarshal([]byte(v), &data); err != nil {
			return domain.Event{}, fmt.Errorf("session: unmarshal event data: %w", err)
		}
		ev.Data = data
	}

	seq, err := sequenceOf(msg.ID)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Sequence = seq
	return ev, nil
}

// sequenceOf derives a strictly-increasing sequence number from a Redis
// stream entry ID ("<ms>-<counter>"), satisfying §4.4.3's monotonic
// requirement without a second counter to keep consistent.
func sequenceOf(streamID string) (uint64, error) {
	for i := 0; i < len(streamID); i++ {
		if streamID[i] == '-' {
			ms, err := strconv.ParseUint(streamID[:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("session: parse stream id %q: %w", streamID, err)
			}
			counter, err := strconv.ParseUint(streamID[i+1:], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("session: parse stream id %q: %w", streamID, err)
			}
			return ms<<20 | (counter & 0xFFFFF), nil
		}
	}
	return 0, fmt.Errorf("session: malformed stream id %q", streamID)
}
