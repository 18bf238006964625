package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"campus/chat/internal/chat"
	"campus/chat/internal/hub"
)

var droppedNotifications = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "chat_dropped_notifications_total",
	Help: "Notifications dropped because the dispatch queue was full.",
})

func init() {
	prometheus.MustRegister(droppedNotifications)
}

// Service persists notifications and pushes them over the hub. Dispatch is
// a bounded in-process queue drained by one worker: enqueueing never blocks
// and failures never reach the caller of the primary operation.
type Service struct {
	repo    chat.NotificationRepository
	bus     hub.Publisher
	counter UnreadCounter
	queue   chan *chat.Notification
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(repo chat.NotificationRepository, bus hub.Publisher, counter UnreadCounter, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Service{
		repo:    repo,
		bus:     bus,
		counter: counter,
		queue:   make(chan *chat.Notification, queueSize),
		now:     time.Now,
	}
}

// Start launches the dispatch worker. It drains the queue and exits when
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case n := <-s.queue:
						s.dispatch(n)
					default:
						return
					}
				}
			case n := <-s.queue:
				s.dispatch(n)
			}
		}
	}()
}

// Wait blocks until the worker has drained after Start's context ended.
func (s *Service) Wait() {
	s.wg.Wait()
}

// NotifyUser queues a notification for userID. Never blocks; a full queue
// drops the notification with a log line.
func (s *Service) NotifyUser(userID string, n *chat.Notification) {
	n.UserID = userID
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	select {
	case s.queue <- n:
	default:
		droppedNotifications.Inc()
		log.Printf("notify: queue full, dropped %s notification for %s", n.Type, userID)
	}
}

func (s *Service) dispatch(n *chat.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		// Degraded side channel: still push the realtime copy.
		log.Printf("notify: persist notification for %s: %v", n.UserID, err)
	}
	count, err := s.counter.Incr(ctx, n.UserID)
	if err != nil {
		log.Printf("notify: unread counter for %s: %v", n.UserID, err)
	}

	s.bus.PublishUser(n.UserID, hub.Event{Name: hub.EventNotification, Payload: n})
	s.bus.PublishUser(n.UserID, hub.Event{Name: hub.EventUnreadCount, Payload: hub.UnreadCountPayload{Count: count}})
}

// MarkRead flips one notification and pushes the new unread count. Marking
// an already-read notification is a no-op: the counter must only move once
// per notification.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	updated, err := s.repo.MarkNotificationRead(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}
	count, err := s.counter.Decr(ctx, userID)
	if err != nil {
		log.Printf("notify: unread counter for %s: %v", userID, err)
	}
	s.bus.PublishUser(userID, hub.Event{Name: hub.EventUnreadCount, Payload: hub.UnreadCountPayload{Count: count}})
	return nil
}

// MarkAllRead flips everything unread and resets the counter.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.counter.Reset(ctx, userID); err != nil {
		log.Printf("notify: reset counter for %s: %v", userID, err)
	}
	s.bus.PublishUser(userID, hub.Event{Name: hub.EventUnreadCount, Payload: hub.UnreadCountPayload{Count: 0}})
	return count, nil
}

// List returns the newest notifications for userID.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*chat.Notification, error) {
	return s.repo.ListNotifications(ctx, userID, limit)
}

// Unread returns the authoritative unread count from storage. The pushed
// unread_count events come from the faster counter instead.
func (s *Service) Unread(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnreadNotifications(ctx, userID)
}

// PublishChannel broadcasts to an arbitrary named channel. Delivery reaches
// whoever is subscribed right now; nothing is queued.
func (s *Service) PublishChannel(channel, title, message string) {
	s.bus.Publish(hub.ChannelRoom(channel), hub.Event{Name: hub.EventChannelNotification, Payload: hub.ChannelNotificationPayload{
		Channel: channel,
		Title:   title,
		Message: message,
		SentAt:  s.now().UTC(),
	}})
}
