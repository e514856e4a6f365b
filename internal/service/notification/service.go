package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/realty-crm/internal/email"
	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/repository"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/messaging"
)

const (
	prefCacheTTL     = 5 * time.Minute
	prefCacheCleanup = 10 * time.Minute

	inAppTopic = "notifications"
)

// SMSProvider is the outbound SMS port. The default provider only logs; a
// real gateway client satisfies the same interface.
type SMSProvider interface {
	Send(ctx context.Context, phone, body string) error
}

type logSMSProvider struct {
	logger *logger.Logger
}

func NewLogSMSProvider(l *logger.Logger) SMSProvider {
	return &logSMSProvider{logger: l}
}

func (p *logSMSProvider) Send(_ context.Context, phone, body string) error {
	p.logger.Info("sms dispatched", "phone", phone, "body", body)
	return nil
}

// Dispatcher delivers a notification request over its channel set and
// reports per-channel success or failure. Retry policy belongs to the
// caller; a Dispatcher attempt is a single try per channel.
type Dispatcher interface {
	DispatchChannel(ctx context.Context, req *model.NotificationRequest, channel model.NotificationChannel) error
	Dispatch(ctx context.Context, req *model.NotificationRequest) []model.ChannelResult
}

// PreferenceReader resolves a recipient's notification preference, cached.
type PreferenceReader interface {
	Preferences(ctx context.Context, userID uuid.UUID, category model.NotificationCategory) (*model.NotificationPreference, error)
}

type Service struct {
	prefRepo repository.PreferenceRepository
	emailSvc email.Service
	sms      SMSProvider
	broker   messaging.Broker
	cache    *gocache.Cache
	logger   *logger.Logger
}

func NewService(prefRepo repository.PreferenceRepository, emailSvc email.Service, sms SMSProvider, broker messaging.Broker, l *logger.Logger) *Service {
	return &Service{
		prefRepo: prefRepo,
		emailSvc: emailSvc,
		sms:      sms,
		broker:   broker,
		cache:    gocache.New(prefCacheTTL, prefCacheCleanup),
		logger:   l,
	}
}

// Preferences reads the recipient's preference through a short-lived cache;
// the escalation tick hits this once per deadline.
func (s *Service) Preferences(ctx context.Context, userID uuid.UUID, category model.NotificationCategory) (*model.NotificationPreference, error) {
	key := userID.String() + "/" + string(category)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.NotificationPreference), nil
	}

	pref, err := s.prefRepo.Get(ctx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load preference: %w", err)
	}
	s.cache.Set(key, pref, gocache.DefaultExpiration)
	return pref, nil
}

// InvalidatePreferences drops the cached entry after an update.
func (s *Service) InvalidatePreferences(userID uuid.UUID, category model.NotificationCategory) {
	s.cache.Delete(userID.String() + "/" + string(category))
}

func (s *Service) Dispatch(ctx context.Context, req *model.NotificationRequest) []model.ChannelResult {
	results := make([]model.ChannelResult, 0, len(req.Channels))
	for _, channel := range req.Channels {
		results = append(results, model.ChannelResult{
			Channel: channel,
			Err:     s.DispatchChannel(ctx, req, channel),
		})
	}
	return results
}

func (s *Service) DispatchChannel(ctx context.Context, req *model.NotificationRequest, channel model.NotificationChannel) error {
	pref, err := s.Preferences(ctx, req.Recipient, req.Category)
	if err != nil {
		return err
	}

	subject, body := renderPayload(req)

	switch channel {
	case model.ChannelEmail:
		if pref.EmailAddress == "" {
			return fmt.Errorf("recipient %s has no email address", req.Recipient)
		}
		return s.emailSvc.Send(ctx, pref.EmailAddress, subject, body)
	case model.ChannelSMS:
		if pref.PhoneNumber == "" {
			return fmt.Errorf("recipient %s has no phone number", req.Recipient)
		}
		return s.sms.Send(ctx, pref.PhoneNumber, body)
	case model.ChannelInApp:
		return s.broker.Publish(ctx, inAppTopic, messaging.Message{
			Type: string(req.Category),
			Payload: model.JSONMap{
				"recipient": req.Recipient,
				"tier":      req.Tier,
				"subject":   subject,
				"body":      body,
			},
		})
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}
}

func renderPayload(req *model.NotificationRequest) (subject, body string) {
	subject = fmt.Sprintf("[%s] %s", req.Tier, req.Category)
	if s, ok := req.Payload["subject"].(string); ok && s != "" {
		subject = s
	}
	body = fmt.Sprintf("A %s deadline requires your attention.", req.Tier)
	if b, ok := req.Payload["body"].(string); ok && b != "" {
		body = b
	}
	return subject, body
}
