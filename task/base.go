package task

import "context"

// ValidationError describes one malformed or missing payload field.
type ValidationError struct {
	Field   string
	Message string
}

// Spec is the TaskSpec contract of spec §3/§4.8: every enrichment task
// registers exactly one of these. name and EnrichmentType are fixed at
// construction; Validate/Execute carry the task's actual behavior.
type Spec interface {
	Name() string
	EnrichmentType() string
	Validate(payload Payload) []ValidationError
	Execute(ctx context.Context, payload Payload) (Result, error)
}

// CreatePayload validates fields against spec and returns the TaskPayload
// envelope the queue will deliver, per §4.8's create_payload contract.
// Trace context is expected to already be bound on ctx (dispatcher seeds it
// at request ingress); callers inject it into the returned payload
// themselves via Payload.Trace before handing off to TaskQueue.
func CreatePayload(spec Spec, accountID, jobID string, fields map[string]interface{}, attemptNumber, maxRetries int) (Payload, []ValidationError) {
	p := Payload{
		TaskName:      spec.Name(),
		JobID:         jobID,
		AccountID:     accountID,
		AttemptNumber: attemptNumber,
		MaxRetries:    maxRetries,
		Fields:        fields,
	}
	if leadID, ok := fields["lead_id"].(string); ok {
		p.LeadID = leadID
	}
	if errs := spec.Validate(p); len(errs) > 0 {
		return Payload{}, errs
	}
	return p, nil
}
