package model

// Projection is the presentation view of a job's status. At most one
// flag is set.
type Projection struct {
	IsCompleted  bool `json:"isCompleted"`
	IsFailed     bool `json:"isFailed"`
	IsProcessing bool `json:"isProcessing"`
}

// Project derives the flags from job.Status. A nil job or an unrecognised
// status yields all false.
func Project(job *Job) Projection {
	if job == nil {
		return Projection{}
	}

	switch job.Status {
	case JobStatusPending, JobStatusProcessing:
		return Projection{IsProcessing: true}
	case JobStatusCompleted:
		return Projection{IsCompleted: true}
	case JobStatusFailed:
		return Projection{IsFailed: true}
	default:
		return Projection{}
	}
}
