package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/push"
	"github.com/dukerupert/dosekeeper/internal/websocket"
)

// ErrQueueFull is returned when a sink cannot accept more work.
var ErrQueueFull = errors.New("notification queue full")

// HubSink broadcasts to connected websocket clients.
type HubSink struct {
	hub *websocket.Hub
	clk clock.Clock
}

func NewHubSink(hub *websocket.Hub, clk clock.Clock) *HubSink {
	return &HubSink{hub: hub, clk: clk}
}

func (s *HubSink) Notify(ev model.NotificationEvent) error {
	s.hub.Broadcast(websocket.EventMessage(ev))
	return nil
}

func (s *HubSink) Badge(count int) error {
	s.hub.Broadcast(websocket.BadgeMessage(count, s.clk.Now()))
	return nil
}

// Sender delivers one web push message.
type Sender interface {
	Send(sub *model.PushSubscription, payload push.Payload) error
}

// Subscriptions lists and prunes push subscriptions.
type Subscriptions interface {
	List() ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// PushSink delivers due and overdue events as web push notifications. Sends
// happen on a background worker; a full queue drops the event.
type PushSink struct {
	sender Sender
	subs   Subscriptions
	logger *slog.Logger
	queue  chan model.NotificationEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPushSink(sender Sender, subs Subscriptions, buffer int, logger *slog.Logger) *PushSink {
	if buffer <= 0 {
		buffer = 32
	}
	return &PushSink{
		sender: sender,
		subs:   subs,
		logger: logger,
		queue:  make(chan model.NotificationEvent, buffer),
	}
}

// Start begins the delivery worker.
func (s *PushSink) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.queue:
				s.deliver(ev)
			}
		}
	}()
}

// Stop stops the worker and waits for it to exit.
func (s *PushSink) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *PushSink) Notify(ev model.NotificationEvent) error {
	if !ev.State.Attention() {
		return nil
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Badge is a no-op: push notifications carry no badge.
func (s *PushSink) Badge(int) error { return nil }

func (s *PushSink) deliver(ev model.NotificationEvent) {
	subs, err := s.subs.List()
	if err != nil {
		s.logger.Error("list push subscriptions", "error", err)
		return
	}

	payload := push.ReminderPayload(ev)
	for i := range subs {
		sub := subs[i]
		err := s.sender.Send(&sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, push.ErrExpired):
			if err := s.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				s.logger.Error("delete expired subscription", "error", err)
			}
		default:
			s.logger.Warn("push send failed", "device", sub.DeviceName, "error", err)
		}
	}
}
