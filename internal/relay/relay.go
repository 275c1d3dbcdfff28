// Package relay bridges external publishers into live lands over Redis
// pub/sub. Another process publishes a JSON event body to
// land:events:{landType}:{instance} or land:events:player:{playerID} and the
// relay injects it as a server event into the matching adapters.
package relay

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/land"
	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/json"
)

const (
	channelPrefix = "land:events:"
	playerPrefix  = "land:events:player:"
)

// envelope is the published message body.
type envelope struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Relay subscribes to the land event channels and forwards matches to the
// manager's adapters.
type Relay struct {
	client  *redis.Client
	manager *land.Manager
	log     *zap.Logger
}

func New(client *redis.Client, manager *land.Manager, log *zap.Logger) *Relay {
	return &Relay{client: client, manager: manager, log: log}
}

// Run consumes the pattern subscription until the context is canceled. The
// subscription reconnects on error with a flat backoff.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if err := r.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("relay subscription lost, reconnecting", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		return nil
	}
}

func (r *Relay) consume(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			r.handle(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Publish sends an event body to a land channel. Lands in other processes
// subscribed to the same Redis pick it up through their own relays.
func (r *Relay) Publish(ctx context.Context, landID land.ID, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	channel := channelPrefix + landID.Type + ":" + landID.Instance
	return r.client.Publish(ctx, channel, body).Err()
}

func (r *Relay) handle(channel string, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Type == "" {
		r.log.Warn("dropping malformed relay message", zap.String("channel", channel), zap.Error(err))
		return
	}
	ev := &protocol.Event{
		Direction: protocol.DirectionFromServer,
		Type:      env.Type,
		Payload:   env.Payload,
	}

	if strings.HasPrefix(channel, playerPrefix) {
		playerID := transport.PlayerID(strings.TrimPrefix(channel, playerPrefix))
		if playerID == "" {
			return
		}
		for _, id := range r.manager.ListLands() {
			c, err := r.manager.GetLand(id)
			if err != nil {
				continue
			}
			c.Adapter.SendEvent(ev, transport.ToPlayer(playerID))
		}
		return
	}

	rest := strings.TrimPrefix(channel, channelPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		r.log.Warn("ignoring relay channel with no instance", zap.String("channel", channel))
		return
	}
	id := land.ID{Type: parts[0], Instance: parts[1]}
	c, err := r.manager.GetLand(id)
	if err != nil {
		r.log.Debug("relay event for absent land", zap.String("land", id.String()))
		return
	}
	c.Adapter.SendEvent(ev, transport.Broadcast())
}
