package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is an asynchronous "send message": the human turn is stored when the
// job is queued and a worker appends the assistant turn.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	SessionID      string `gorm:"type:varchar(36);not null;index:uniq_job_idempo,unique,priority:1" json:"session_id"`
	HumanMessageID string `gorm:"type:varchar(36);not null" json:"human_message_id"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_job_idempo,unique,priority:2" json:"-"`

	// JSON encoded generation parameters
	Parameters string `gorm:"type:text" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultMessageID *string `gorm:"type:varchar(36)" json:"result_message_id"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Session *Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Job) TableName() string { return "chat_jobs" }
