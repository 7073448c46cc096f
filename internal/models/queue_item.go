// Package models provides data model definitions for zicer-sync.
package models

// Action is the kind of work a queue item requests.
type Action string

const (
	ActionSync   Action = "sync"
	ActionDelete Action = "delete"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QueueItem represents one pending unit of sync work.
type QueueItem struct {
	ID           string `db:"id" json:"id"`
	ProductID    string `db:"product_id" json:"product_id"`
	Action       Action `db:"action" json:"action"`
	Status       Status `db:"status" json:"status"`
	Attempts     int    `db:"attempts" json:"attempts"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	ProcessedAt  int64  `db:"processed_at" json:"processed_at,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}

// QueueStats is the per-status item count snapshot of the queue.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
