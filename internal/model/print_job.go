package model

import "time"

// JobStatus 打印任务状态。
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobPrinting  JobStatus = "printing"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal 终态任务会被移出队列并丢弃。
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// PrintJob 只由打印队列持有；订单侧仅保存 JobID。
type PrintJob struct {
	JobID          string        `json:"job_id"`
	OrderID        string        `json:"order_id"`
	FilePath       string        `json:"file_path"`
	Settings       PrintSettings `json:"settings"`
	CollectionCode int           `json:"collection_code"`

	Status    JobStatus  `json:"status"`
	Attempts  int        `json:"attempts"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}
