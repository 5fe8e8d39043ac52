package warming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
)

const (
	// RedisChannel carries CountersChanged JSON published by ingest.
	RedisChannel = "analytics:counters_changed"
	// PGChannel is notified by the analytics_counters trigger.
	PGChannel = "analytics_counters_changed"
)

// ChangeHandler reacts to upstream counter writes. *Scheduler implements it.
type ChangeHandler interface {
	WarmOnDataUpdate(ctx context.Context, change domain.CountersChanged) (Report, error)
}

func parseChange(payload []byte) (domain.CountersChanged, error) {
	var c domain.CountersChanged
	if err := json.Unmarshal(payload, &c); err != nil {
		return c, fmt.Errorf("bad counters-changed payload: %w", err)
	}
	if !c.Domain.Valid() {
		return c, fmt.Errorf("bad counters-changed payload: unknown domain %q", c.Domain)
	}
	return c, nil
}

func dispatch(ctx context.Context, h ChangeHandler, log logger.Interface, source string, payload []byte) {
	change, err := parseChange(payload)
	if err != nil {
		log.Warn("dropping change signal", "source", source, "error", err)
		return
	}
	if _, err := h.WarmOnDataUpdate(ctx, change); err != nil {
		log.Warn("change signal handling failed", "source", source, "domain", change.Domain, "error", err)
	}
}

// Publish announces a counters change on the Redis channel.
func Publish(ctx context.Context, client *redis.Client, change domain.CountersChanged) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return client.Publish(ctx, RedisChannel, data).Err()
}

// RedisSubscriber feeds Redis pub/sub change signals into a handler.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	handler ChangeHandler
	log     logger.Interface
}

func NewRedisSubscriber(client *redis.Client, handler ChangeHandler, log logger.Interface) *RedisSubscriber {
	if log == nil {
		log = logger.Default()
	}
	return &RedisSubscriber{client: client, channel: RedisChannel, handler: handler, log: log}
}

// Run blocks until ctx is done. Messages are handled one at a time.
func (r *RedisSubscriber) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("listening for counter changes", "source", "redis", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			dispatch(ctx, r.handler, r.log, "redis", []byte(msg.Payload))
		}
	}
}

// PGListener feeds Postgres NOTIFY change signals into a handler.
type PGListener struct {
	connStr string
	handler ChangeHandler
	log     logger.Interface

	minReconn time.Duration
	maxReconn time.Duration
	pingEvery time.Duration
}

func NewPGListener(connStr string, handler ChangeHandler, log logger.Interface) *PGListener {
	if log == nil {
		log = logger.Default()
	}
	return &PGListener{
		connStr:   connStr,
		handler:   handler,
		log:       log,
		minReconn: 10 * time.Second,
		maxReconn: time.Minute,
		pingEvery: 90 * time.Second,
	}
}

// Run blocks until ctx is done.
func (p *PGListener) Run(ctx context.Context) error {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.Warn("pg listener event", "event", ev, "error", err)
		}
	}
	l := pq.NewListener(p.connStr, p.minReconn, p.maxReconn, report)
	defer l.Close()

	if err := l.Listen(PGChannel); err != nil {
		return fmt.Errorf("listen %s: %w", PGChannel, err)
	}
	p.log.Info("listening for counter changes", "source", "postgres", "channel", PGChannel)
	p.listen(ctx, l.Notify, l.Ping)
	return nil
}

// listen drains notifications. A nil notification means the connection was
// re-established and changes may have been missed, so it is logged only;
// entries still expire on their TTL.
func (p *PGListener) listen(ctx context.Context, notify <-chan *pq.Notification, ping func() error) {
	t := time.NewTicker(p.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			if n == nil {
				p.log.Warn("pg listener reconnected, notifications may have been lost")
				continue
			}
			dispatch(ctx, p.handler, p.log, "postgres", []byte(n.Extra))
		case <-t.C:
			go func() {
				if err := ping(); err != nil {
					p.log.Warn("pg listener ping failed", "error", err)
				}
			}()
		}
	}
}
