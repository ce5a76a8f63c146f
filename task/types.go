// Package task defines the TaskSpec/TaskPayload/TaskResult/JobStatus data
// model and the process-singleton TaskRegistry, generalizing
// core.Task/TaskStatus/TaskError (task-lifetime, async-result modeling) into
// the enrichment worker's specific payload/callback/retry semantics.
package task

import (
	"time"

	"github.com/userport/enrichment-worker/telemetry"
)

// Status mirrors core.TaskStatus but adds the worker's own terminal states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the opaque mapping carried at the edges of the system: queue
// message body in, execute-handler body out. job_id is the caller-supplied
// identifier for this logical attempt and is distinct from the
// queue-assigned TaskID the dispatcher hands back to callers — see
// DESIGN.md's Open Question resolution.
type Payload struct {
	TaskName      string                 `json:"task_name"`
	JobID         string                 `json:"job_id"`
	AccountID     string                 `json:"account_id"`
	LeadID        string                 `json:"lead_id,omitempty"`
	AttemptNumber int                    `json:"attempt_number"`
	MaxRetries    int                    `json:"max_retries"`
	OriginalJobID string                 `json:"original_job_id,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	Trace         telemetry.TraceContext `json:"-"`
}

// ToMap flattens Payload into the wire shape TaskQueue delivers, injecting
// trace fields via telemetry.InjectPayload so downstream consumers see a
// single opaque map.
func (p Payload) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Fields)+8)
	for k, v := range p.Fields {
		out[k] = v
	}
	out["task_name"] = p.TaskName
	out["job_id"] = p.JobID
	out["account_id"] = p.AccountID
	if p.LeadID != "" {
		out["lead_id"] = p.LeadID
	}
	out["attempt_number"] = p.AttemptNumber
	out["max_retries"] = p.MaxRetries
	if p.OriginalJobID != "" {
		out["original_job_id"] = p.OriginalJobID
	}
	return telemetry.InjectPayload(out, p.Trace)
}

// PayloadFromMap reconstructs a Payload from a decoded wire map, extracting
// trace fields via telemetry.ExtractTrace.
func PayloadFromMap(m map[string]interface{}) Payload {
	getString := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	getInt := func(key string) int {
		switch v := m[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		default:
			return 0
		}
	}

	fields := make(map[string]interface{}, len(m))
	for k, v := range m {
		fields[k] = v
	}

	return Payload{
		TaskName:      getString("task_name"),
		JobID:         getString("job_id"),
		AccountID:     getString("account_id"),
		LeadID:        getString("lead_id"),
		AttemptNumber: getInt("attempt_number"),
		MaxRetries:    getInt("max_retries"),
		OriginalJobID: getString("original_job_id"),
		Fields:        fields,
		Trace:         telemetry.ExtractTrace(m),
	}
}

// Result is the TaskResult of spec §3.
type Result struct {
	Status               Status                 `json:"status"`
	CompletionPercentage int                    `json:"completion_percentage"`
	ProcessedData        map[string]interface{} `json:"processed_data,omitempty"`
	Error                *ResultError           `json:"error,omitempty"`
}

type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CallbackEnvelope is the wire shape delivered to the lead-enrichment
// callback receiver, per spec §3/§6.
type CallbackEnvelope struct {
	JobID                string                 `json:"job_id"`
	AccountID            string                 `json:"account_id"`
	LeadID               string                 `json:"lead_id,omitempty"`
	Status               Status                 `json:"status"`
	EnrichmentType       string                 `json:"enrichment_type"`
	Source               string                 `json:"source"`
	IsPartial            bool                   `json:"is_partial"`
	CompletionPercentage int                    `json:"completion_percentage"`
	RawData              map[string]interface{} `json:"raw_data,omitempty"`
	ProcessedData        map[string]interface{} `json:"processed_data,omitempty"`
	ErrorDetails         *ResultError           `json:"error_details,omitempty"`
	AttemptNumber        int                    `json:"attempt_number,omitempty"`
	MaxRetries           int                    `json:"max_retries,omitempty"`
	Pagination           *PaginationMeta        `json:"pagination,omitempty"`
	TraceID              string                 `json:"trace_id,omitempty"`
}

// PaginationMeta is the per-page metadata attached to a paginated terminal
// callback; see callback.Paginator.
type PaginationMeta struct {
	Page           int            `json:"page"`
	TotalPages     int            `json:"total_pages"`
	LeadsPerPage   int            `json:"leads_per_page"`
	TotalLeads     int            `json:"total_leads"`
	CurrentChunk   map[string]int `json:"current_chunk"`
}

// JobStatus is the dispatcher-observed lifecycle record for a single job,
// persisted by storage.JobSink and surfaced at GET /tasks/{job_id}/status.
type JobStatus struct {
	JobID         string    `json:"job_id"`
	TaskName      string    `json:"task_name"`
	EntityID      string    `json:"entity_id"`
	Status        Status    `json:"status"`
	AttemptNumber int       `json:"attempt_number"`
	MaxRetries    int       `json:"max_retries"`
	Retryable     bool      `json:"retryable"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// CanRetry reports whether spec §4.9's retry precondition holds: the job is
// failed, its failure was retryable, and attempts remain.
func (j JobStatus) CanRetry() bool {
	return j.Status == StatusFailed && j.Retryable && j.AttemptNumber < j.MaxRetries
}
