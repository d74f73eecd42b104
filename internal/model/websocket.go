package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries one monitor snapshot
type WSProgressMessage struct {
	Type               string          `json:"type"`
	JobID              string          `json:"jobId"`
	Status             JobStatus       `json:"status"`
	ProgressPercentage int             `json:"progressPercentage"`
	CurrentBatch       int             `json:"currentBatch"`
	CompletedBatches   int             `json:"completedBatches"`
	FailedBatches      int             `json:"failedBatches"`
	TotalBatches       int             `json:"totalBatches"`
	Batches            []BatchProgress `json:"batches,omitempty"`
	Projection
}

// WSCompleteMessage is sent once the job reaches a terminal status
type WSCompleteMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Job   *Job   `json:"job"`
	Projection
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
