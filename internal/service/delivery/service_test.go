package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignkit/outreach/internal/email"
	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/service/template"
	"github.com/campaignkit/outreach/pkg/errors"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
	"github.com/campaignkit/outreach/pkg/queue"
)

// metrics collectors register globally, so share one instance across tests.
var testMetrics = metrics.New("outreach_delivery_test")

type memRecipientRepo struct {
	recipients map[uuid.UUID]*model.Recipient
}

func newMemRecipientRepo() *memRecipientRepo {
	return &memRecipientRepo{recipients: make(map[uuid.UUID]*model.Recipient)}
}

func (m *memRecipientRepo) add(r *model.Recipient) *model.Recipient {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.recipients[r.ID] = r
	return r
}

func (m *memRecipientRepo) Create(_ context.Context, r *model.Recipient) error {
	m.add(r)
	return nil
}

func (m *memRecipientRepo) Get(_ context.Context, id uuid.UUID) (*model.Recipient, error) {
	r, ok := m.recipients[id]
	if !ok {
		return nil, errors.NotFound("recipient", nil)
	}
	copied := *r
	return &copied, nil
}

func (m *memRecipientRepo) ListByCampaign(context.Context, uuid.UUID, model.Pagination) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *memRecipientRepo) CountByCampaign(context.Context, uuid.UUID) (int, error) {
	return 0, nil
}

func (m *memRecipientRepo) CountPendingByCampaign(_ context.Context, campaignID uuid.UUID) (int, error) {
	n := 0
	for _, r := range m.recipients {
		if r.CampaignID == campaignID && r.Status == model.RecipientStatusPending {
			n++
		}
	}
	return n, nil
}

func (m *memRecipientRepo) MarkTerminal(_ context.Context, id uuid.UUID, status model.RecipientStatus, attempts int, lastError *string, sentAt *time.Time) (bool, error) {
	r, ok := m.recipients[id]
	if !ok || r.Status != model.RecipientStatusPending {
		return false, nil
	}
	r.Status = status
	r.Attempts = attempts
	r.LastError = lastError
	r.SentAt = sentAt
	return true, nil
}

func (m *memRecipientRepo) RecordAttempt(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	r, ok := m.recipients[id]
	if !ok || r.Status != model.RecipientStatusPending {
		return nil
	}
	r.Attempts = attempts
	r.LastError = &lastError
	return nil
}

func (m *memRecipientRepo) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*model.Recipient, error) {
	var out []*model.Recipient
	for _, r := range m.recipients {
		if r.Status == model.RecipientStatusPending && r.SendTime.Before(olderThan) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[uuid.UUID]*model.Campaign)}
}

func (m *memCampaignRepo) add(c *model.Campaign) *model.Campaign {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.campaigns[c.ID] = c
	return c
}

func (m *memCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.add(c)
	return nil
}

func (m *memCampaignRepo) Get(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, errors.NotFound("campaign", nil)
	}
	return c, nil
}

func (m *memCampaignRepo) ListByUser(context.Context, uuid.UUID) ([]*model.Campaign, error) {
	return nil, nil
}

func (m *memCampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.CampaignStatus) error {
	if c, ok := m.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

type memUserRepo struct {
	users map[uuid.UUID]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (m *memUserRepo) add(u *model.User) *model.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
	return u
}

func (m *memUserRepo) Create(_ context.Context, u *model.User) error {
	m.add(u)
	return nil
}

func (m *memUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, errors.NotFound("user", nil)
	}
	return u, nil
}

// scriptedSender returns its scripted errors in order, then succeeds.
type scriptedSender struct {
	script []error
	calls  int
	sentTo []string
}

func (s *scriptedSender) Send(_ context.Context, to, _, _ string) error {
	s.calls++
	s.sentTo = append(s.sentTo, to)
	if s.calls <= len(s.script) {
		return s.script[s.calls-1]
	}
	return nil
}

type recordedWrite struct {
	sheetID   string
	cellRange string
	value     string
}

type fakeSheetWriter struct {
	writes []recordedWrite
	err    error
}

func (f *fakeSheetWriter) UpdateCell(_ context.Context, _, sheetID, cellRange, value string) error {
	f.writes = append(f.writes, recordedWrite{sheetID: sheetID, cellRange: cellRange, value: value})
	return f.err
}

type fakeTokenProvider struct {
	token string
	err   error
}

func (f *fakeTokenProvider) AccessToken(context.Context, string) (string, error) {
	return f.token, f.err
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, _, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

type fixture struct {
	svc        *Service
	recipients *memRecipientRepo
	campaigns  *memCampaignRepo
	users      *memUserRepo
	sender     *scriptedSender
	sheet      *fakeSheetWriter
	notifier   *fakeNotifier

	recipient *model.Recipient
	campaign  *model.Campaign
	user      *model.User
	job       *model.SendJob
}

func newFixture(t *testing.T, data model.JSONMap, script ...error) *fixture {
	t.Helper()

	recipients := newMemRecipientRepo()
	campaigns := newMemCampaignRepo()
	users := newMemUserRepo()

	refresh := "refresh-token"
	hook := "https://discord.example/hook"
	user := users.add(&model.User{
		Email:              "owner@x.com",
		GoogleRefreshToken: &refresh,
		DiscordWebhookURL:  &hook,
	})

	campaign := campaigns.add(&model.Campaign{
		UserID:        user.ID,
		Name:          "launch",
		SheetID:       "sheet-1",
		ColumnMapping: model.JSONMap{"Email": "B", "Name": "A", "Status": "G"},
		Status:        model.CampaignStatusPending,
		StartTime:     time.Now(),
	})

	recipient := recipients.add(&model.Recipient{
		CampaignID: campaign.ID,
		RowIndex:   5,
		Data:       data,
		Status:     model.RecipientStatusPending,
		SendTime:   time.Now(),
	})

	sender := &scriptedSender{script: script}
	sheet := &fakeSheetWriter{}
	notifier := &fakeNotifier{}
	propagator := NewPropagator(sheet, &fakeTokenProvider{token: "access-token"}, notifier, logger.Discard(), testMetrics)

	svc := NewService(
		recipients, campaigns, users,
		sender,
		template.NewRenderer(rand.New(rand.NewSource(1))),
		propagator,
		logger.Discard(), testMetrics,
	)

	return &fixture{
		svc:        svc,
		recipients: recipients,
		campaigns:  campaigns,
		users:      users,
		sender:     sender,
		sheet:      sheet,
		notifier:   notifier,
		recipient:  recipient,
		campaign:   campaign,
		user:       user,
		job: &model.SendJob{
			RecipientID:   recipient.ID,
			UserID:        user.ID,
			SheetID:       campaign.SheetID,
			RowIndex:      recipient.RowIndex,
			ColumnMapping: campaign.ColumnMapping,
		},
	}
}

func transientErr() error {
	return fmt.Errorf("dial tcp: connection refused")
}

func permanentErr() error {
	return &email.SendError{StatusCode: 400, Errors: []email.ProviderError{{Status: 400, Message: "bad address"}}}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Name": "Ann", "Email": "ann@x.com"})

	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err)

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.SentAt)

	assert.Equal(t, []string{"ann@x.com"}, f.sender.sentTo)

	require.Len(t, f.sheet.writes, 1)
	assert.Equal(t, "sheet-1", f.sheet.writes[0].sheetID)
	assert.Equal(t, "Sheet1!G5", f.sheet.writes[0].cellRange)
	assert.Equal(t, "SENT", f.sheet.writes[0].value)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "Email sent to Ann")
	assert.Contains(t, f.notifier.messages[0], "ann@x.com")

	// Last pending recipient resolved, so the campaign is done.
	assert.Equal(t, model.CampaignStatusCompleted, f.campaigns.campaigns[f.campaign.ID].Status)
}

func TestProcessLeavesCampaignOpenWhileRecipientsPend(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Name": "Ann", "Email": "ann@x.com"})
	f.recipients.add(&model.Recipient{
		CampaignID: f.campaign.ID,
		RowIndex:   6,
		Data:       model.JSONMap{"Email": "bob@x.com"},
		Status:     model.RecipientStatusPending,
		SendTime:   time.Now().Add(time.Hour),
	})

	require.NoError(t, f.svc.Process(context.Background(), f.job))

	assert.Equal(t, model.RecipientStatusSent, f.recipients.recipients[f.recipient.ID].Status)
	assert.NotEqual(t, model.CampaignStatusCompleted, f.campaigns.campaigns[f.campaign.ID].Status)
}

func TestProcessMissingEmail(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Name": "Ann", "Email": ""})

	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err, "missing email is terminal, not retryable")

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "Missing email address", *got.LastError)

	assert.Zero(t, f.sender.calls, "no transport call for a missing address")
}

func TestProcessPermanentFailure(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"}, permanentErr())

	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err, "permanent failure must not trigger a queue retry")

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)

	require.Len(t, f.sheet.writes, 1)
	assert.Equal(t, "FAILED", f.sheet.writes[0].value)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "Permanent failure")
}

func TestProcessTransientThenSuccess(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"}, transientErr(), transientErr())

	// Attempts one and two fail transiently: the handler returns the error
	// so the queue retries, and the attempt counter advances.
	for i := 1; i <= 2; i++ {
		err := f.svc.Process(context.Background(), f.job)
		require.Error(t, err)
		got := f.recipients.recipients[f.recipient.ID]
		assert.Equal(t, model.RecipientStatusPending, got.Status)
		assert.Equal(t, i, got.Attempts)
		require.NotNil(t, got.LastError)
	}

	// Attempt three succeeds.
	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err)

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusSent, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.LastError)
}

func TestProcessTransientExhaustsRecipientCap(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"},
		transientErr(), transientErr(), transientErr())

	require.Error(t, f.svc.Process(context.Background(), f.job))
	require.Error(t, f.svc.Process(context.Background(), f.job))

	// Third transient failure hits the recipient-level cap: terminal
	// FAILED, nil return so the queue stops.
	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err)

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, f.sender.calls)

	// A further queue redelivery is a no-op.
	require.NoError(t, f.svc.Process(context.Background(), f.job))
	assert.Equal(t, 3, f.sender.calls)
	assert.Equal(t, 3, f.recipients.recipients[f.recipient.ID].Attempts)
}

func TestProcessTerminalRecipientIsNoOp(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"})
	f.recipients.recipients[f.recipient.ID].Status = model.RecipientStatusSent

	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err)
	assert.Zero(t, f.sender.calls, "terminal recipient must never trigger a second send")
	assert.Empty(t, f.sheet.writes)
}

func TestProcessSheetWriteFailureKeepsSent(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"})
	f.sheet.err = fmt.Errorf("sheet unavailable")

	err := f.svc.Process(context.Background(), f.job)
	require.NoError(t, err, "propagation failure must not escalate")

	got := f.recipients.recipients[f.recipient.ID]
	assert.Equal(t, model.RecipientStatusSent, got.Status)
}

func TestProcessMissingRecipientRetries(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"})
	f.job.RecipientID = uuid.New()

	err := f.svc.Process(context.Background(), f.job)
	require.Error(t, err, "missing entity is retryable, not terminal")
	assert.Zero(t, f.sender.calls)
}

func TestHandleJobRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"})

	err := f.svc.HandleJob(context.Background(), []byte(`{"recipient_id":"00000000-0000-0000-0000-000000000000"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrPermanent)

	err = f.svc.HandleJob(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrPermanent)
}

func TestHandleJobRoundTrip(t *testing.T) {
	f := newFixture(t, model.JSONMap{"Email": "ann@x.com"})

	payload := fmt.Sprintf(`{"recipient_id":%q,"user_id":%q,"sheet_id":"sheet-1","row_index":5,"column_mapping":{"Status":"G"}}`,
		f.recipient.ID, f.user.ID)

	require.NoError(t, f.svc.HandleJob(context.Background(), []byte(payload)))
	assert.Equal(t, model.RecipientStatusSent, f.recipients.recipients[f.recipient.ID].Status)
}
