package redisNotify

import (
	"context"
	"dataset-registry/registry"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var _ registry.Extension = (*Notifier)(nil)

// Event types pushed to the list.
const (
	EventRegister = "register"
	EventDelete   = "delete"
)

// Event is one change notification. Consumers pop events from the tail of
// the list in the order they were pushed.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	URI       string    `json:"uri"`
	BaseURI   string    `json:"base_uri,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier appends an Event to a redis list for every registration and
// deletion.
type Notifier struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func New(client *redis.Client, key string) *Notifier {
	return &Notifier{
		client: client,
		key:    key,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the name of the list events are pushed to.
func (n *Notifier) Key() string {
	return n.key
}

func (n *Notifier) RegisterDataset(ctx context.Context, info *registry.DatasetInfo) error {
	if info == nil {
		return &registry.ValidationError{Problems: []string{"dataset info is required"}}
	}

	return n.push(ctx, Event{
		Type:    EventRegister,
		URI:     info.URI,
		BaseURI: info.BaseURI,
		UUID:    info.UUID,
	})
}

func (n *Notifier) DeleteDataset(ctx context.Context, uri string) error {
	return n.push(ctx, Event{Type: EventDelete, URI: uri})
}

func (n *Notifier) push(ctx context.Context, event Event) error {
	event.ID = uuid.NewString()
	event.Timestamp = n.now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := n.client.RPush(ctx, n.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to %s: %w", n.key, err)
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("uri", event.URI).
		Msg("Published dataset event")

	return nil
}

// Pending returns the events currently queued, oldest first.
func (n *Notifier) Pending(ctx context.Context) ([]Event, error) {
	raw, err := n.client.LRange(ctx, n.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, e)
	}

	return events, nil
}
