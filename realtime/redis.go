package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trip_booking/model"
)

const channelPattern = "trip:*:seats"

func Channel(tripId uint) string {
	return fmt.Sprintf("trip:%d:seats", tripId)
}

// RedisPublisher sends seat events to the trip's Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev model.SeatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(ev.TripId), payload).Err()
}

// Relay feeds every trip channel from Redis back into a Hub.
type Relay struct {
	client *redis.Client
	hub    *Hub
	log    *logrus.Entry

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRelay(client *redis.Client, hub *Hub, log *logrus.Entry) *Relay {
	return &Relay{client: client, hub: hub, log: log, ready: make(chan struct{})}
}

// Ready is closed once the pattern subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run blocks until ctx is done or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPattern)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", channelPattern, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.SeatEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed seat event")
				continue
			}
			_ = r.hub.Publish(ctx, ev)
		}
	}
}
