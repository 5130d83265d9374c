package models

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether a job can no longer change status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

type ProcessingMode string

const ProcessingModeQueued ProcessingMode = "queued"

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	ReferrerID *int64
	IsBanned   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Avatar is a named generation project owned by exactly one user.
// The owner never changes after creation.
type Avatar struct {
	ID        int64
	UserID    int64
	Title     string
	CreatedAt time.Time
}

type ReferenceImage struct {
	ID        int64
	AvatarID  int64
	URL       string
	CreatedAt time.Time
}

type GenerationJob struct {
	ID              int64
	AvatarID        int64
	StyleID         string
	TotalPhotos     int
	CompletedPhotos int
	Status          JobStatus
	ErrorMessage    string
	RefundNote      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GeneratedPhoto struct {
	ID        int64
	JobID     int64
	URL       string
	CreatedAt time.Time
}

type Payment struct {
	ID             int64
	UserID         int64
	JobID          *int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         PaymentStatus
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
