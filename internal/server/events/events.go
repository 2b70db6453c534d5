// Package events delivers notifications about saved items to subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/refstore/internal/logging"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionModify Action = "modify"
)

// Event describes one committed item save.
type Event struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	EntityType string    `json:"entityType"`
	LibraryID  int64     `json:"libraryID"`
	ItemID     int64     `json:"itemID"`
	Key        string    `json:"key"`
	Changed    []string  `json:"changed,omitempty"`
	At         time.Time `json:"at"`
}

// NewEvent stamps an item event with a time-ordered id.
func NewEvent(action Action, libraryID, itemID int64, key string, changed []string, at time.Time) Event {
	return Event{
		ID:         newID(),
		Action:     action,
		EntityType: "item",
		LibraryID:  libraryID,
		ItemID:     itemID,
		Key:        key,
		Changed:    changed,
		At:         at,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Hooks fans an event out to every sink and joins their errors.
type Hooks []Sink

func (h Hooks) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range h {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisPublisher publishes events as JSON on a redis channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Emit(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, b).Err()
}

// LogSink writes every event to a logger at debug level.
type LogSink struct {
	Logger logging.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) error {
	s.Logger.Debug(ctx, "item event", "action", e.Action, "library_id", e.LibraryID, "item_id", e.ItemID, "key", e.Key)
	return nil
}
