package remote

import (
	"encoding/json"
	"time"

	"github.com/clawinfra/evosync/internal/queue"
)

// ItemPayload is the wire form of one queue item. The local id is not part
// of it; the remote assigns its own.
type ItemPayload struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation queue.Operation `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Priority  int             `json:"priority"`
}

// PayloadFor builds the wire form of it.
func PayloadFor(it queue.Item) ItemPayload {
	data := it.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return ItemPayload{
		TableName: it.TableName,
		RecordID:  it.RecordID,
		Operation: it.Operation,
		Data:      data,
		Priority:  it.Priority,
	}
}

// ProcessResult is the response of POST /sync/process.
type ProcessResult struct {
	TotalProcessed int      `json:"total_processed"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors,omitempty"`
}

// Stats is the remote's view of its own queue.
type Stats struct {
	Total          int               `json:"total"`
	Pending        int               `json:"pending"`
	Syncing        int               `json:"syncing"`
	Completed      int               `json:"completed"`
	Failed         int               `json:"failed"`
	RecentActivity []json.RawMessage `json:"recent_activity"`
}

// Item is one entry of the remote queue.
type Item struct {
	ID           string          `json:"id"`
	TableName    string          `json:"table_name"`
	RecordID     string          `json:"record_id"`
	Operation    queue.Operation `json:"operation"`
	Data         json.RawMessage `json:"data,omitempty"`
	Priority     int             `json:"priority"`
	Status       queue.Status    `json:"status"`
	Attempts     int             `json:"attempts"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type countResponse struct {
	Count int `json:"count"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
