package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
)

type fakeDeadlineStore struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]*model.Deadline
}

func newFakeDeadlineStore() *fakeDeadlineStore {
	return &fakeDeadlineStore{deadlines: make(map[uuid.UUID]*model.Deadline)}
}

func (r *fakeDeadlineStore) add(d *model.Deadline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines[d.ID] = d
}

func (r *fakeDeadlineStore) get(id uuid.UUID) *model.Deadline {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.deadlines[id]
	return &cp
}

func (r *fakeDeadlineStore) Create(_ context.Context, d *model.Deadline) error {
	r.add(d)
	return nil
}

func (r *fakeDeadlineStore) Get(_ context.Context, id uuid.UUID) (*model.Deadline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deadlines[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDeadlineStore) ReplaceForClient(_ context.Context, d *model.Deadline) error {
	r.add(d)
	return nil
}

func (r *fakeDeadlineStore) ClearForClient(context.Context, uuid.UUID, time.Time) error { return nil }

func (r *fakeDeadlineStore) ClearForAppointment(context.Context, uuid.UUID, time.Time) error {
	return nil
}

func (r *fakeDeadlineStore) ListOpen(context.Context) ([]*model.Deadline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Deadline
	for _, d := range r.deadlines {
		if d.Open() {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func tierEqual(a, b *model.Tier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakeDeadlineStore) CompareAndSetNotifiedTier(_ context.Context, id uuid.UUID, expected *model.Tier, tier model.Tier) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deadlines[id]
	if !ok || !tierEqual(d.LastNotifiedTier, expected) {
		return false, nil
	}
	t := tier
	d.LastNotifiedTier = &t
	d.DeferredTier = nil
	return true, nil
}

func (r *fakeDeadlineStore) CompareAndSetDeferredTier(_ context.Context, id uuid.UUID, expected, tier *model.Tier) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deadlines[id]
	if !ok || !tierEqual(d.DeferredTier, expected) {
		return false, nil
	}
	d.DeferredTier = tier
	return true, nil
}

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries []*model.NotificationDelivery
}

func (r *fakeDeliveryRepo) Create(_ context.Context, d *model.NotificationDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *fakeDeliveryRepo) ListForDeadline(_ context.Context, deadlineID uuid.UUID) ([]*model.NotificationDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.NotificationDelivery
	for _, d := range r.deliveries {
		if d.DeadlineID == deadlineID {
			out = append(out, d)
		}
	}
	return out, nil
}

type sentRecord struct {
	channel model.NotificationChannel
	tier    model.Tier
}

type fakeDispatcher struct {
	mu           sync.Mutex
	sent         []sentRecord
	failChannels map[model.NotificationChannel]error

	// gate, when set, blocks every dispatch until closed. Cancellation wins
	// over the gate, as it would for a real network send.
	gate chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failChannels: make(map[model.NotificationChannel]error)}
}

func (f *fakeDispatcher) DispatchChannel(ctx context.Context, req *model.NotificationRequest, channel model.NotificationChannel) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failChannels[channel]; ok {
		return err
	}
	f.sent = append(f.sent, sentRecord{channel: channel, tier: req.Tier})
	return nil
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *model.NotificationRequest) []model.ChannelResult {
	results := make([]model.ChannelResult, 0, len(req.Channels))
	for _, c := range req.Channels {
		results = append(results, model.ChannelResult{Channel: c, Err: f.DispatchChannel(ctx, req, c)})
	}
	return results
}

func (f *fakeDispatcher) count(channel model.NotificationChannel, tier model.Tier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.channel == channel && s.tier == tier {
			n++
		}
	}
	return n
}

type fakePrefs struct {
	pref *model.NotificationPreference
}

func (f *fakePrefs) Preferences(context.Context, uuid.UUID, model.NotificationCategory) (*model.NotificationPreference, error) {
	return f.pref, nil
}

func allChannelsPref() *model.NotificationPreference {
	return &model.NotificationPreference{
		Category:     model.CategoryDeadline,
		Email:        true,
		SMS:          true,
		InApp:        true,
		Frequency:    model.FrequencyImmediate,
		EmailAddress: "agent@example.com",
		PhoneNumber:  "+15550100",
	}
}

func quietPref() *model.NotificationPreference {
	pref := allChannelsPref()
	pref.QuietHours = model.QuietHours{
		Enabled:  true,
		Start:    "22:00",
		End:      "07:00",
		Timezone: "UTC",
	}
	return pref
}

type escalationFixture struct {
	scheduler  *EscalationScheduler
	store      *fakeDeadlineStore
	deliveries *fakeDeliveryRepo
	dispatcher *fakeDispatcher
	now        *time.Time
}

func newEscalationFixture(t *testing.T, pref *model.NotificationPreference) *escalationFixture {
	t.Helper()
	store := newFakeDeadlineStore()
	deliveries := &fakeDeliveryRepo{}
	dispatcher := newFakeDispatcher()

	s := NewEscalationScheduler(store, deliveries, dispatcher, &fakePrefs{pref: pref}, EscalationConfig{
		TickInterval:  time.Minute,
		Concurrency:   4,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, logger.NewLogger(nil), metrics.NewForTesting("test"))

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	fixtureNow := &now
	s.now = func() time.Time { return *fixtureNow }

	return &escalationFixture{scheduler: s, store: store, deliveries: deliveries, dispatcher: dispatcher, now: fixtureNow}
}

func (f *escalationFixture) addDeadline(dueIn time.Duration) uuid.UUID {
	d := &model.Deadline{
		ID:     uuid.New(),
		UserID: uuid.New(),
		DueAt:  f.now.Add(dueIn),
	}
	f.store.add(d)
	return d.ID
}

func TestTickNotifiesOnceAcrossTicks(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	id := f.addDeadline(10 * time.Hour) // urgent

	require.NoError(t, f.scheduler.Tick(context.Background()))
	require.NoError(t, f.scheduler.Tick(context.Background()))
	require.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))

	d := f.store.get(id)
	require.NotNil(t, d.LastNotifiedTier)
	assert.Equal(t, model.TierUrgent, *d.LastNotifiedTier)
}

func TestUpcomingTierIsEmailOnly(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	f.addDeadline(48 * time.Hour) // upcoming

	require.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUpcoming))
	assert.Equal(t, 0, f.dispatcher.count(model.ChannelSMS, model.TierUpcoming))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUpcoming))
}

func TestNormalTierStaysQuiet(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	f.addDeadline(200 * time.Hour)

	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Empty(t, f.dispatcher.sent)
}

func TestEscalatesThroughTiers(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	id := f.addDeadline(48 * time.Hour)

	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUpcoming))

	// 40 hours later the deadline is 8 hours out: urgent.
	*f.now = f.now.Add(40 * time.Hour)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))

	// Past due: overdue fires once more.
	*f.now = f.now.Add(10 * time.Hour)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierOverdue))

	d := f.store.get(id)
	require.NotNil(t, d.LastNotifiedTier)
	assert.Equal(t, model.TierOverdue, *d.LastNotifiedTier)
}

func TestQuietHoursDeferThenComplete(t *testing.T) {
	f := newEscalationFixture(t, quietPref())
	*f.now = time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC) // inside 22:00-07:00
	id := f.addDeadline(10 * time.Hour)                    // urgent

	require.NoError(t, f.scheduler.Tick(context.Background()))

	// In-app goes out immediately; email and SMS are parked.
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))
	assert.Equal(t, 0, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
	assert.Equal(t, 0, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))

	d := f.store.get(id)
	require.NotNil(t, d.DeferredTier)
	assert.Equal(t, model.TierUrgent, *d.DeferredTier)
	assert.Nil(t, d.LastNotifiedTier)

	// Still inside the window: nothing new, no repeated in-app.
	*f.now = f.now.Add(time.Hour)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))

	// Window over: the owed email and SMS go out exactly once.
	*f.now = time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.scheduler.Tick(context.Background()))
	require.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))

	d = f.store.get(id)
	assert.Nil(t, d.DeferredTier)
	require.NotNil(t, d.LastNotifiedTier)
	assert.Equal(t, model.TierUrgent, *d.LastNotifiedTier)
}

func TestChannelFailureDoesNotBlockOthers(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	f.dispatcher.failChannels[model.ChannelEmail] = errors.New("smtp unreachable")
	id := f.addDeadline(10 * time.Hour)

	require.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, 1, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))

	rows, err := f.deliveries.ListForDeadline(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	var failed *model.NotificationDelivery
	for _, row := range rows {
		if row.Channel == model.ChannelEmail {
			failed = row
		} else {
			assert.Equal(t, model.DeliveryStatusSent, row.Status)
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, model.DeliveryStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "smtp unreachable")
}

func TestDisabledChannelsStillAdvanceTier(t *testing.T) {
	pref := allChannelsPref()
	pref.Email = false
	pref.SMS = false
	pref.InApp = false

	f := newEscalationFixture(t, pref)
	id := f.addDeadline(10 * time.Hour)

	require.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Empty(t, f.dispatcher.sent)

	d := f.store.get(id)
	require.NotNil(t, d.LastNotifiedTier)
	assert.Equal(t, model.TierUrgent, *d.LastNotifiedTier)
}

func TestStartDrainsInFlightTickOnShutdown(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	f.addDeadline(10 * time.Hour)
	f.scheduler.config.TickInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.scheduler.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}

	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
}

func TestShutdownDeliversClaimedNotifications(t *testing.T) {
	f := newEscalationFixture(t, allChannelsPref())
	id := f.addDeadline(10 * time.Hour) // urgent
	f.scheduler.config.TickInterval = 5 * time.Millisecond
	f.dispatcher.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.scheduler.Start(ctx)
		close(done)
	}()

	// The first tick claims the tier and blocks mid-dispatch; shutdown
	// arrives while the claim is outstanding.
	time.Sleep(30 * time.Millisecond)
	cancel()
	close(f.dispatcher.gate)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}

	// The claimed transition still delivered on every channel; a claim with
	// no delivery would be lost for good.
	d := f.store.get(id)
	require.NotNil(t, d.LastNotifiedTier)
	assert.Equal(t, model.TierUrgent, *d.LastNotifiedTier)
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelEmail, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelSMS, model.TierUrgent))
	assert.Equal(t, 1, f.dispatcher.count(model.ChannelInApp, model.TierUrgent))
}

func TestConfigValidation(t *testing.T) {
	assert.Panics(t, func() {
		NewEscalationScheduler(nil, nil, nil, nil, EscalationConfig{}, logger.NewLogger(nil), metrics.NewForTesting("cfg"))
	})
}
