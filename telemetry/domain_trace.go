package telemetry

import (
	"context"

	"github.com/google/uuid"
)

// Baggage keys for the five trace fields every log record and outbound
// call in the enrichment worker carries. These ride inside OTel baggage
// (see context.go) rather than a bespoke context key, so the same
// propagation, limits, and stats machinery applies to them for free.
const (
	FieldTraceID   = "trace_id"
	FieldJobID     = "job_id"
	FieldAccountID = "account_id"
	FieldLeadID    = "lead_id"
	FieldTaskName  = "task_name"
)

var domainFields = [...]string{FieldTraceID, FieldJobID, FieldAccountID, FieldLeadID, FieldTaskName}

// TraceContext is the immutable-on-capture five-field scope that flows
// from request ingress through every outbound call, callback, and
// concurrency boundary: trace_id, job_id, account_id, lead_id, task_name.
type TraceContext struct {
	TraceID   string
	JobID     string
	AccountID string
	LeadID    string
	TaskName  string
}

// NewTraceID generates a new trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceField binds a single trace field into a nested scope, returning
// a derived context. Prior values for other fields are preserved; callers
// restore the previous scope simply by continuing to use the original ctx
// after the nested call returns (standard Go context nesting), which gives
// the RAII-equivalent body-scoped binding spec's with_scope describes
// without needing an explicit defer-based API.
func WithTraceField(ctx context.Context, field, value string) context.Context {
	return WithBaggage(ctx, field, value)
}

// WithTrace seeds a brand new TraceContext into ctx, generating a trace_id
// if one isn't supplied.
func WithTrace(ctx context.Context, tc TraceContext) context.Context {
	if tc.TraceID == "" {
		tc.TraceID = NewTraceID()
	}
	return WithBaggage(ctx,
		FieldTraceID, tc.TraceID,
		FieldJobID, tc.JobID,
		FieldAccountID, tc.AccountID,
		FieldLeadID, tc.LeadID,
		FieldTaskName, tc.TaskName,
	)
}

// CaptureTrace snapshots the current five trace fields out of ctx. This is
// the capture half of the capture-before/restore-in concurrency contract:
// call it before handing work to a goroutine or thread-pool task, then
// RestoreTrace inside that task.
func CaptureTrace(ctx context.Context) TraceContext {
	bag := GetBaggage(ctx)
	return TraceContext{
		TraceID:   bag[FieldTraceID],
		JobID:     bag[FieldJobID],
		AccountID: bag[FieldAccountID],
		LeadID:    bag[FieldLeadID],
		TaskName:  bag[FieldTaskName],
	}
}

// RestoreTrace re-binds a previously captured TraceContext onto ctx. Use
// this at the top of any goroutine, worker-pool task, or remote callback
// handler that received a TraceContext captured upstream.
func RestoreTrace(ctx context.Context, tc TraceContext) context.Context {
	return WithTrace(ctx, tc)
}

// InjectPayload overlays the non-empty fields of tc onto payload, without
// overwriting keys the caller already supplied — inject never clobbers an
// explicit caller-supplied value, it only fills gaps.
func InjectPayload(payload map[string]interface{}, tc TraceContext) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+len(domainFields))
	for k, v := range payload {
		out[k] = v
	}
	overlay := map[string]string{
		FieldTraceID:   tc.TraceID,
		FieldJobID:     tc.JobID,
		FieldAccountID: tc.AccountID,
		FieldLeadID:    tc.LeadID,
		FieldTaskName:  tc.TaskName,
	}
	for _, field := range domainFields {
		value := overlay[field]
		if value == "" {
			continue
		}
		if _, present := out[field]; present {
			continue
		}
		out[field] = value
	}
	return out
}

// ExtractTrace pulls the five recognized trace fields out of payload,
// ignoring every other key.
func ExtractTrace(payload map[string]interface{}) TraceContext {
	get := func(key string) string {
		v, ok := payload[key]
		if !ok {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	return TraceContext{
		TraceID:   get(FieldTraceID),
		JobID:     get(FieldJobID),
		AccountID: get(FieldAccountID),
		LeadID:    get(FieldLeadID),
		TaskName:  get(FieldTaskName),
	}
}
