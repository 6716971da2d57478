package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/metrics"

	"github.com/rs/zerolog"
)

// DefaultNotifyRetryIntervals are the waits between publish attempts. A nil
// schedule passed to NewNotificationService means this one.
var DefaultNotifyRetryIntervals = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

const publishTimeout = 5 * time.Second

// NotificationServiceImpl implements ports.NotificationService. Events are
// signed with HMAC-SHA256 over their JSON without the signature field and
// published asynchronously with retries.
type NotificationServiceImpl struct {
	publisher  ports.EventPublisher
	sigSvc     ports.SignatureService
	signingKey string
	intervals  []time.Duration
	metrics    *metrics.Metrics
	log        zerolog.Logger
	wg         sync.WaitGroup

	// Deliveries run under stopCtx so shutdown can abort pending backoffs.
	stopCtx context.Context
	stop    context.CancelFunc
	after   func(time.Duration) <-chan time.Time
}

// NewNotificationService creates a new notification service. An empty,
// non-nil retryIntervals disables retries.
func NewNotificationService(
	publisher ports.EventPublisher,
	sigSvc ports.SignatureService,
	signingKey string,
	retryIntervals []time.Duration,
	m *metrics.Metrics,
	log zerolog.Logger,
) *NotificationServiceImpl {
	if retryIntervals == nil {
		retryIntervals = DefaultNotifyRetryIntervals
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &NotificationServiceImpl{
		publisher:  publisher,
		sigSvc:     sigSvc,
		signingKey: signingKey,
		intervals:  retryIntervals,
		metrics:    m,
		log:        log,
		stopCtx:    stopCtx,
		stop:       stop,
		after:      time.After,
	}
}

// Notify signs event and hands it to a delivery goroutine. It never blocks
// on the broker and never fails the caller. Delivery outlives ctx.
func (s *NotificationServiceImpl) Notify(_ context.Context, event *domain.Event) {
	unsigned := *event
	unsigned.Signature = ""
	data, err := json.Marshal(unsigned)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(event.Type)).Msg("notify: failed to marshal event")
		return
	}
	unsigned.Signature = s.sigSvc.Sign(s.signingKey, string(data))

	body, err := json.Marshal(unsigned)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(event.Type)).Msg("notify: failed to marshal signed event")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetries(s.stopCtx, string(event.Type), body, event.ID.String())
	}()
}

// Wait blocks until in-flight deliveries finish. If ctx ends first, pending
// retries are abandoned and Wait returns ctx.Err() once every delivery
// goroutine has exited.
func (s *NotificationServiceImpl) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stop()
		<-done
		return ctx.Err()
	}
}

func (s *NotificationServiceImpl) deliverWithRetries(ctx context.Context, routingKey string, body []byte, eventID string) {
	for attempt := 0; attempt <= len(s.intervals); attempt++ {
		if attempt > 0 {
			select {
			case <-s.after(s.intervals[attempt-1]):
			case <-ctx.Done():
				s.metrics.IncrPublishError(routingKey)
				s.log.Error().Str("event_id", eventID).Str("event", routingKey).Int("attempts", attempt).
					Msg("notify: delivery abandoned at shutdown")
				return
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.publisher.Publish(pubCtx, routingKey, body)
		cancel()
		if err == nil {
			s.log.Debug().Str("event_id", eventID).Str("event", routingKey).Int("attempt", attempt+1).Msg("notify: published")
			return
		}
		s.log.Warn().Err(err).Str("event_id", eventID).Str("event", routingKey).Int("attempt", attempt+1).Msg("notify: publish failed")
	}

	s.metrics.IncrPublishError(routingKey)
	s.log.Error().Str("event_id", eventID).Str("event", routingKey).Msg("notify: all retry attempts exhausted")
}
