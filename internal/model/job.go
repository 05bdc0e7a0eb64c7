package model

import "time"

// JobStatus — состояние задачи обработки.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobDeadLetter JobStatus = "DEAD_LETTER"
	JobCanceled   JobStatus = "CANCELED"
)

// jobTransitions — допустимые переходы статуса задачи.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending:    {JobQueued: true, JobCanceled: true},
	JobQueued:     {JobProcessing: true, JobCanceled: true},
	JobProcessing: {JobCompleted: true, JobFailed: true, JobCanceled: true},
	JobFailed:     {JobQueued: true, JobDeadLetter: true},
	JobCompleted:  {},
	JobDeadLetter: {},
	JobCanceled:   {},
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	return jobTransitions[s][to]
}

func (s JobStatus) IsTerminal() bool {
	return len(jobTransitions[s]) == 0
}

// Имена очередей воркеров.
const (
	QueueHighPriority = "high_priority"
	QueueDefault      = "default"
)

// Job — одна попытка (с ретраями) применить инструмент к файлу.
// Ссылается на File только по uuid, обратных указателей нет.
type Job struct {
	UUID            string     `db:"uuid" json:"uuid"`
	FileUUID        string     `db:"file_uuid" json:"file_uuid"`
	UserUUID        *string    `db:"user_uuid" json:"user_uuid,omitempty"`
	// Principal — субъект учёта квот: uuid пользователя или IP гостя
	Principal       string     `db:"principal" json:"-"`
	ToolID          string     `db:"tool_id" json:"tool_id"`
	Params          Metadata   `db:"params" json:"params,omitempty"`
	Status          JobStatus  `db:"status" json:"status"`
	Priority        int        `db:"priority" json:"priority"`
	Queue           string     `db:"queue" json:"queue"`
	RetryCount      int        `db:"retry_count" json:"retry_count"`
	MaxRetries      int        `db:"max_retries" json:"max_retries"`
	NextRetryAt     *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ProgressPercent int        `db:"progress_percent" json:"progress_percent"`
	ProgressMessage string     `db:"progress_message" json:"progress_message"`
	Result          Metadata   `db:"result" json:"result,omitempty"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	ErrorCode       string     `db:"error_code" json:"error_code,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// RetryBackoff — задержка до следующей попытки: min(60*2^n, 3600) секунд.
func RetryBackoff(retryCount int) time.Duration {
	seconds := 60 * (1 << retryCount)
	if seconds > 3600 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
