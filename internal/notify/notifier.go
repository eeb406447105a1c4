// Package notify delivers in-app notifications after the state change that
// triggered them has committed. Delivery is best effort: a full buffer or a
// failed insert never fails the originating operation.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"govline/internal/domain"
	"govline/internal/metrics"
	"govline/internal/repo"
)

type Notifier struct {
	repo  repo.Repo
	log   *slog.Logger
	queue chan domain.Notification
	wg    sync.WaitGroup

	// mu guards closed and the send on queue, so Enqueue can never race
	// Close's close(queue).
	mu     sync.Mutex
	closed bool

	Now func() time.Time
}

func New(r repo.Repo, log *slog.Logger, bufferSize int) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	n := &Notifier{
		repo:  r,
		log:   log,
		queue: make(chan domain.Notification, bufferSize),
		Now:   time.Now,
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for notif := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := n.repo.InsertNotification(ctx, notif)
		cancel()
		if err != nil {
			metrics.NotificationsFailed.Inc()
			n.log.Error("notification insert failed",
				"notification_id", notif.ID, "user_id", notif.UserID, "err", err)
			continue
		}
		metrics.NotificationsSent.Inc()
	}
}

// Enqueue queues one notification for delivery. Drops it with a log line when
// the buffer is full or the notifier is closed.
func (n *Notifier) Enqueue(notif domain.Notification) {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.CreatedAt == "" {
		notif.CreatedAt = n.Now().UTC().Format(time.RFC3339)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		metrics.NotificationsFailed.Inc()
		n.log.Warn("notifier closed, dropping notification", "user_id", notif.UserID, "type", notif.Type)
		return
	}
	select {
	case n.queue <- notif:
	default:
		metrics.NotificationsFailed.Inc()
		n.log.Warn("notification buffer full, dropping", "user_id", notif.UserID, "type", notif.Type)
	}
}

// FanOut queues the same notification body for every user in the list.
func (n *Notifier) FanOut(users []domain.User, t domain.NotificationType, title, message, link string) {
	for _, u := range users {
		n.Enqueue(domain.Notification{
			UserID:  u.ID,
			Type:    t,
			Title:   title,
			Message: message,
			Link:    link,
		})
	}
}

// Close drains the queue and stops the worker. Safe to call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}
