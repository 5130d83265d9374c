package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/massmindmaker/fotoset-sub002/internal/billing"
	"github.com/massmindmaker/fotoset-sub002/internal/imagecheck"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/queue"
)

// memStore is an in-memory implementation of every store interface, shared
// by the service tests.
type memStore struct {
	users    map[int64]*models.User
	avatars  map[int64]*models.Avatar
	refs     map[int64][]models.ReferenceImage
	jobs     map[int64]*models.GenerationJob
	prompts  map[int64][]string
	photos   map[int64][]models.GeneratedPhoto
	payments map[int64]*models.Payment
	settings map[string]string

	nextUserID    int64
	nextAvatarID  int64
	nextJobID     int64
	nextPaymentID int64

	failCreateRef     bool
	failInsertPrompts bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*models.User),
		avatars:  make(map[int64]*models.Avatar),
		refs:     make(map[int64][]models.ReferenceImage),
		jobs:     make(map[int64]*models.GenerationJob),
		prompts:  make(map[int64][]string),
		photos:   make(map[int64][]models.GeneratedPhoto),
		payments: make(map[int64]*models.Payment),
		settings: make(map[string]string),
	}
}

// --- UserStore ---

func (m *memStore) FindByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	for _, u := range m.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByID(_ context.Context, id int64) (*models.User, error) {
	return m.users[id], nil
}

func (m *memStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

// --- AvatarStore ---

func (m *memStore) FindAvatarByID(_ context.Context, id int64) (*models.Avatar, error) {
	return m.avatars[id], nil
}

func (m *memStore) FindByIDForUser(_ context.Context, id, userID int64) (*models.Avatar, error) {
	a := m.avatars[id]
	if a == nil || a.UserID != userID {
		return nil, nil
	}
	return a, nil
}

func (m *memStore) CreateAvatar(_ context.Context, avatar *models.Avatar) (*models.Avatar, error) {
	m.nextAvatarID++
	avatar.ID = m.nextAvatarID
	avatar.CreatedAt = time.Now()
	m.avatars[avatar.ID] = avatar
	return avatar, nil
}

func (m *memStore) MaxID(_ context.Context) (int64, error) {
	return m.nextAvatarID, nil
}

func (m *memStore) ListReferenceImages(_ context.Context, avatarID int64) ([]models.ReferenceImage, error) {
	return m.refs[avatarID], nil
}

func (m *memStore) CreateReferenceImage(_ context.Context, image *models.ReferenceImage) error {
	if m.failCreateRef {
		return errors.New("insert failed")
	}
	image.ID = int64(len(m.refs[image.AvatarID]) + 1)
	m.refs[image.AvatarID] = append(m.refs[image.AvatarID], *image)
	return nil
}

// --- JobStore ---

func (m *memStore) CreateJob(_ context.Context, job *models.GenerationJob) (*models.GenerationJob, error) {
	m.nextJobID++
	job.ID = m.nextJobID
	job.CreatedAt = time.Now()
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memStore) FindJobByID(_ context.Context, id int64) (*models.GenerationJob, error) {
	return m.jobs[id], nil
}

func (m *memStore) FindLatestByAvatar(_ context.Context, avatarID int64) (*models.GenerationJob, error) {
	var latest *models.GenerationJob
	for _, j := range m.jobs {
		if j.AvatarID != avatarID {
			continue
		}
		if latest == nil || j.ID > latest.ID {
			latest = j
		}
	}
	return latest, nil
}

func (m *memStore) UpdateStatus(_ context.Context, jobID int64, status models.JobStatus, errorMessage string) error {
	j := m.jobs[jobID]
	if j == nil {
		return fmt.Errorf("job %d not found", jobID)
	}
	j.Status = status
	if errorMessage != "" {
		j.ErrorMessage = errorMessage
	}
	return nil
}

func (m *memStore) SetRefundNote(_ context.Context, jobID int64, note string) error {
	j := m.jobs[jobID]
	if j == nil {
		return fmt.Errorf("job %d not found", jobID)
	}
	j.RefundNote = note
	return nil
}

func (m *memStore) InsertPrompts(_ context.Context, jobID int64, prompts []string) error {
	if m.failInsertPrompts {
		return errors.New("insert prompts failed")
	}
	m.prompts[jobID] = append(m.prompts[jobID], prompts...)
	return nil
}

func (m *memStore) ListPromptsForAvatarStyle(_ context.Context, avatarID int64, styleID string) ([]string, error) {
	var out []string
	for jobID, prompts := range m.prompts {
		j := m.jobs[jobID]
		if j == nil || j.AvatarID != avatarID || j.StyleID != styleID {
			continue
		}
		out = append(out, prompts...)
	}
	return out, nil
}

func (m *memStore) AddPhoto(_ context.Context, jobID int64, url string) (int, error) {
	j := m.jobs[jobID]
	if j == nil {
		return 0, fmt.Errorf("job %d not found", jobID)
	}
	m.photos[jobID] = append(m.photos[jobID], models.GeneratedPhoto{JobID: jobID, URL: url})
	j.CompletedPhotos++
	return j.CompletedPhotos, nil
}

func (m *memStore) ListPhotos(_ context.Context, jobID int64) ([]models.GeneratedPhoto, error) {
	return m.photos[jobID], nil
}

// --- PaymentStore ---

func (m *memStore) addPayment(userID int64, status models.PaymentStatus, amount int) *models.Payment {
	m.nextPaymentID++
	p := &models.Payment{
		ID:             m.nextPaymentID,
		UserID:         userID,
		Provider:       Provider,
		ProviderCharge: fmt.Sprintf("ch-%d", m.nextPaymentID),
		Currency:       "RUB",
		Amount:         amount,
		Status:         status,
	}
	m.payments[p.ID] = p
	return p
}

func (m *memStore) FindPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	return m.payments[id], nil
}

func (m *memStore) FindByProviderCharge(_ context.Context, provider, chargeID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.Provider == provider && p.ProviderCharge == chargeID {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memStore) HasSucceeded(_ context.Context, userID int64) (bool, error) {
	for _, p := range m.payments {
		if p.UserID == userID && p.Status == models.PaymentStatusSucceeded {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindLatestSucceededByUser(_ context.Context, userID int64) (*models.Payment, error) {
	var best *models.Payment
	for _, p := range m.payments {
		if p.UserID != userID || p.Status != models.PaymentStatusSucceeded {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		bestFree := best.JobID == nil
		pFree := p.JobID == nil
		if (pFree && !bestFree) || (pFree == bestFree && p.ID > best.ID) {
			best = p
		}
	}
	return best, nil
}

func (m *memStore) FindByJob(_ context.Context, jobID int64) (*models.Payment, error) {
	var best *models.Payment
	for _, p := range m.payments {
		if p.JobID != nil && *p.JobID == jobID {
			if best == nil || p.ID > best.ID {
				best = p
			}
		}
	}
	return best, nil
}

func (m *memStore) AttachJob(_ context.Context, paymentID, jobID int64) error {
	p := m.payments[paymentID]
	if p == nil {
		return fmt.Errorf("payment %d not found", paymentID)
	}
	p.JobID = &jobID
	return nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status models.PaymentStatus, payload string) error {
	p := m.payments[paymentID]
	if p == nil {
		return fmt.Errorf("payment %d not found", paymentID)
	}
	p.Status = status
	p.RawPayload = payload
	return nil
}

func (m *memStore) MarkRefunded(_ context.Context, paymentID int64, payload string) error {
	p := m.payments[paymentID]
	if p == nil {
		return fmt.Errorf("payment %d not found", paymentID)
	}
	if p.Status != models.PaymentStatusSucceeded {
		return errors.New("payment is not refundable in its current status")
	}
	p.Status = models.PaymentStatusRefunded
	p.RawPayload = payload
	return nil
}

// --- SettingsStore ---

func (m *memStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := m.settings[name]
	return v, ok, nil
}

// --- fakes for outbound collaborators ---

type fakeQueue struct {
	published []queue.JobPayload
	err       error
}

func (q *fakeQueue) PublishJob(_ context.Context, payload queue.JobPayload) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.published = append(q.published, payload)
	return fmt.Sprintf("171234-%d", len(q.published)), nil
}

type fakeGateway struct {
	calls  int
	result *billing.RefundResult
	err    error
}

func (g *fakeGateway) Configured() bool { return true }

func (g *fakeGateway) Refund(_ context.Context, _ string, _ int, _ string) (*billing.RefundResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &billing.RefundResult{OK: true, RefundID: "rf-1", GatewayStatus: "succeeded"}, nil
}

type fakeUploader struct {
	uploads int
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, _ []byte, _ string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads++
	return fmt.Sprintf("https://cdn.test/references/%d.jpg", u.uploads), nil
}

// acceptAllFilter bypasses the size checks so tests can use tiny payloads.
type acceptAllFilter struct{}

func (acceptAllFilter) Check(index int, data []byte, _ string) imagecheck.Result {
	if len(data) == 0 {
		return imagecheck.Result{Index: index, Reason: "empty image payload"}
	}
	return imagecheck.Result{Index: index, OK: true}
}

// The adapters below split memStore's merged method set back into the
// per-store interfaces where method names collide (FindByID, Create,
// UpdateStatus exist per entity). memStore itself satisfies UserStore and
// SettingsStore directly.

type avatarStoreAdapter struct{ *memStore }

func (a avatarStoreAdapter) FindByID(ctx context.Context, id int64) (*models.Avatar, error) {
	return a.memStore.FindAvatarByID(ctx, id)
}

func (a avatarStoreAdapter) Create(ctx context.Context, avatar *models.Avatar) (*models.Avatar, error) {
	return a.memStore.CreateAvatar(ctx, avatar)
}

type jobStoreAdapter struct{ *memStore }

func (a jobStoreAdapter) Create(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, error) {
	return a.memStore.CreateJob(ctx, job)
}

func (a jobStoreAdapter) FindByID(ctx context.Context, id int64) (*models.GenerationJob, error) {
	return a.memStore.FindJobByID(ctx, id)
}

type paymentStoreAdapter struct{ *memStore }

func (a paymentStoreAdapter) FindByID(ctx context.Context, id int64) (*models.Payment, error) {
	return a.memStore.FindPaymentByID(ctx, id)
}

func (a paymentStoreAdapter) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus, payload string) error {
	return a.memStore.UpdatePaymentStatus(ctx, paymentID, status, payload)
}
