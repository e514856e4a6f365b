package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/realty-crm/internal/deadline"
	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/repository"
	"github.com/jwalitptl/realty-crm/internal/service/notification"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
)

type EscalationConfig struct {
	TickInterval  time.Duration
	Concurrency   int
	RetryAttempts int
	RetryDelay    time.Duration
}

// EscalationScheduler sweeps open deadlines on a fixed tick, classifies each
// against the current instant and notifies owners when a deadline crosses
// into a more urgent tier. Tier claims go through compare-and-set so a tier
// transition notifies at most once even with concurrent replicas.
type EscalationScheduler struct {
	deadlines  repository.DeadlineRepository
	deliveries repository.DeliveryRepository
	dispatcher notification.Dispatcher
	prefs      notification.PreferenceReader
	config     EscalationConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics

	inFlight atomic.Bool
	wg       sync.WaitGroup

	now func() time.Time
}

func NewEscalationScheduler(
	deadlines repository.DeadlineRepository,
	deliveries repository.DeliveryRepository,
	dispatcher notification.Dispatcher,
	prefs notification.PreferenceReader,
	config EscalationConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *EscalationScheduler {
	if config.TickInterval <= 0 {
		panic("TickInterval must be greater than 0")
	}
	if config.Concurrency <= 0 {
		panic("Concurrency must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &EscalationScheduler{
		deadlines:  deadlines,
		deliveries: deliveries,
		dispatcher: dispatcher,
		prefs:      prefs,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Start runs the tick loop until ctx is cancelled, then waits for the
// in-flight tick to drain before returning. Cancellation stops new ticks and
// new per-deadline evaluations; dispatches already under way run to
// completion.
func (s *EscalationScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("Starting escalation scheduler", "tick_interval", s.config.TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down escalation scheduler")
			s.wg.Wait()
			return
		case <-ticker.C:
			// Single flight: a tick that outlives its interval is not
			// stacked behind another one.
			if !s.inFlight.CompareAndSwap(false, true) {
				s.metrics.TicksSkipped.Inc()
				s.logger.Warn("Skipping escalation tick, previous tick still running")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.inFlight.Store(false)
				if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error(err, "Escalation tick failed")
				}
			}()
		}
	}
}

// Tick evaluates every open deadline once, fanning out over a bounded pool.
func (s *EscalationScheduler) Tick(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.TickDuration)
	defer timer.ObserveDuration()

	open, err := s.deadlines.ListOpen(ctx)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list_open_deadlines", "error").Inc()
		return fmt.Errorf("failed to list open deadlines: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("list_open_deadlines", "success").Inc()

	// Shutdown stops the fan-out, not evaluations already started: a tier
	// claim followed by a cancelled dispatch would lose the notification for
	// good, since claims are never re-attempted.
	evalCtx := context.WithoutCancel(ctx)

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup
	for _, d := range open {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(d *model.Deadline) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.evaluate(evalCtx, d); err != nil {
				s.logger.Error(err, "Failed to evaluate deadline", "deadline_id", d.ID.String())
			}
		}(d)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *EscalationScheduler) evaluate(ctx context.Context, d *model.Deadline) error {
	s.metrics.DeadlinesEvaluated.Inc()

	now := s.now()
	tier := deadline.Classify(d.DueAt, now)

	pref, err := s.prefs.Preferences(ctx, d.UserID, model.CategoryDeadline)
	if err != nil {
		return fmt.Errorf("failed to resolve preference for %s: %w", d.UserID, err)
	}

	quiet, err := pref.Contains(now)
	if err != nil {
		// A broken quiet-hours config never blocks escalation.
		s.logger.Warn("Ignoring invalid quiet hours", "user_id", d.UserID.String(), "error", err.Error())
		quiet = false
	}

	if tier.MoreUrgentThan(s.effectiveTier(d)) {
		return s.transition(ctx, d, pref, tier, quiet)
	}
	if d.DeferredTier != nil && !quiet {
		return s.completeDeferred(ctx, d, pref)
	}
	return nil
}

// effectiveTier is the most urgent tier already claimed for the deadline,
// whether fully notified or parked behind quiet hours.
func (s *EscalationScheduler) effectiveTier(d *model.Deadline) *model.Tier {
	if d.DeferredTier != nil && d.DeferredTier.MoreUrgentThan(d.LastNotifiedTier) {
		return d.DeferredTier
	}
	return d.LastNotifiedTier
}

// transition handles a deadline crossing into a more urgent tier. The tier is
// claimed by compare-and-set before anything is sent; a lost claim means
// another tick or replica owns this transition.
func (s *EscalationScheduler) transition(ctx context.Context, d *model.Deadline, pref *model.NotificationPreference, tier model.Tier, quiet bool) error {
	channels := pref.ChannelsForTier(tier)

	if quiet {
		// Quiet hours suppress email and SMS but never in-app. The tier is
		// parked as deferred and its remaining channels are owed once the
		// window ends.
		claimed, err := s.deadlines.CompareAndSetDeferredTier(ctx, d.ID, d.DeferredTier, &tier)
		if err != nil {
			return fmt.Errorf("failed to defer tier: %w", err)
		}
		if !claimed {
			return nil
		}
		s.metrics.NotificationsDeferred.Inc()
		if containsChannel(channels, model.ChannelInApp) {
			s.send(ctx, d, tier, []model.NotificationChannel{model.ChannelInApp})
		}
		return nil
	}

	claimed, err := s.deadlines.CompareAndSetNotifiedTier(ctx, d.ID, d.LastNotifiedTier, tier)
	if err != nil {
		return fmt.Errorf("failed to claim tier transition: %w", err)
	}
	if !claimed {
		return nil
	}
	s.send(ctx, d, tier, channels)
	return nil
}

// completeDeferred delivers the email/SMS channels owed for a tier that was
// parked during quiet hours. In-app went out at the original transition.
func (s *EscalationScheduler) completeDeferred(ctx context.Context, d *model.Deadline, pref *model.NotificationPreference) error {
	owed := *d.DeferredTier

	// Claiming last_notified_tier also clears deferred_tier.
	claimed, err := s.deadlines.CompareAndSetNotifiedTier(ctx, d.ID, d.LastNotifiedTier, owed)
	if err != nil {
		return fmt.Errorf("failed to claim deferred tier: %w", err)
	}
	if !claimed {
		return nil
	}

	channels := withoutChannel(pref.ChannelsForTier(owed), model.ChannelInApp)
	s.send(ctx, d, owed, channels)
	return nil
}

// send dispatches each channel independently with bounded retry; one channel
// failing never blocks the others. Every attempt outcome lands in the
// delivery log.
func (s *EscalationScheduler) send(ctx context.Context, d *model.Deadline, tier model.Tier, channels []model.NotificationChannel) {
	if len(channels) == 0 {
		return
	}

	req := &model.NotificationRequest{
		Recipient: d.UserID,
		Category:  model.CategoryDeadline,
		Tier:      tier,
		Channels:  channels,
		Payload:   s.payload(d, tier),
	}

	for _, channel := range channels {
		attempts := 0
		err := s.withRetry(channel, &attempts, func() error {
			return s.dispatcher.DispatchChannel(ctx, req, channel)
		})
		if err != nil {
			s.metrics.NotificationsFailed.WithLabelValues(string(channel), string(tier)).Inc()
			s.logger.Error(err, "Notification channel failed",
				"deadline_id", d.ID.String(),
				"channel", string(channel),
				"tier", string(tier))
		} else {
			s.metrics.NotificationsSent.WithLabelValues(string(channel), string(tier)).Inc()
		}
		s.recordDelivery(ctx, d, tier, channel, attempts, err)
	}
}

func (s *EscalationScheduler) withRetry(channel model.NotificationChannel, attempts *int, fn func() error) error {
	var err error
	delay := s.config.RetryDelay
	for i := 0; i < s.config.RetryAttempts; i++ {
		*attempts = i + 1
		if err = fn(); err == nil {
			return nil
		}
		if i < s.config.RetryAttempts-1 {
			s.metrics.DispatchRetries.WithLabelValues(string(channel)).Inc()
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func (s *EscalationScheduler) recordDelivery(ctx context.Context, d *model.Deadline, tier model.Tier, channel model.NotificationChannel, attempts int, dispatchErr error) {
	delivery := &model.NotificationDelivery{
		ID:         uuid.New(),
		DeadlineID: d.ID,
		UserID:     d.UserID,
		Category:   model.CategoryDeadline,
		Tier:       tier,
		Channel:    channel,
		Status:     model.DeliveryStatusSent,
		Attempts:   attempts,
		CreatedAt:  s.now(),
	}
	if dispatchErr != nil {
		delivery.Status = model.DeliveryStatusFailed
		msg := dispatchErr.Error()
		delivery.LastError = &msg
	}
	if err := s.deliveries.Create(ctx, delivery); err != nil {
		s.logger.Error(err, "Failed to record delivery", "deadline_id", d.ID.String())
	}
}

func (s *EscalationScheduler) payload(d *model.Deadline, tier model.Tier) model.JSONMap {
	subject := fmt.Sprintf("Deadline %s", tier)
	body := fmt.Sprintf("A deadline due %s is now %s.", d.DueAt.Format(time.RFC1123), tier)
	if tier == model.TierOverdue {
		subject = "Deadline overdue"
		body = fmt.Sprintf("A deadline due %s has passed.", d.DueAt.Format(time.RFC1123))
	}
	return model.JSONMap{
		"deadline_id": d.ID.String(),
		"due_at":      d.DueAt.Format(time.RFC3339),
		"subject":     subject,
		"body":        body,
	}
}

func containsChannel(channels []model.NotificationChannel, want model.NotificationChannel) bool {
	for _, c := range channels {
		if c == want {
			return true
		}
	}
	return false
}

func withoutChannel(channels []model.NotificationChannel, drop model.NotificationChannel) []model.NotificationChannel {
	out := channels[:0]
	for _, c := range channels {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}
