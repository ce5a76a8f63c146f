package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/userport/enrichment-worker/task"
)

// ErrJobNotFound mirrors dispatcher.ErrJobNotFound; kept as a distinct
// sentinel here so storage has no import-time dependency on dispatcher
// (neither package imports the other; cmd/worker hands a JobSink to the
// dispatcher as its JobStore).
var ErrJobNotFound = errors.New("job not found")

// JobSink implements dispatcher.JobStore structurally against
// enrichment_raw_data, the durable sink named in spec §6. It also carries
// the raw/processed payload persistence BaseTask.Execute performs at step
// 6 of its lifecycle (SaveRawData).
type JobSink struct {
	db *DB
}

func NewJobSink(db *DB) *JobSink {
	return &JobSink{db: db}
}

func (s *JobSink) Create(ctx context.Context, status task.JobStatus) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO enrichment_raw_data
			(job_id, task_name, tenant_id, entity_id, status, attempt_number, max_retries, retryable, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO UPDATE SET
			task_name = EXCLUDED.task_name,
			status = EXCLUDED.status,
			attempt_number = EXCLUDED.attempt_number,
			max_retries = EXCLUDED.max_retries,
			retryable = EXCLUDED.retryable,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`, status.JobID, status.TaskName, "", status.EntityID, string(status.Status),
		status.AttemptNumber, status.MaxRetries, status.Retryable, status.LastError,
		status.CreatedAt, status.UpdatedAt)
	return err
}

func (s *JobSink) Get(ctx context.Context, jobID string) (task.JobStatus, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT job_id, task_name, entity_id, status, attempt_number, max_retries, retryable, last_error, created_at, updated_at
		FROM enrichment_raw_data WHERE job_id = $1
	`, jobID)

	var st task.JobStatus
	var entityID, lastError *string
	if err := row.Scan(&st.JobID, &st.TaskName, &entityID, &st.Status, &st.AttemptNumber,
		&st.MaxRetries, &st.Retryable, &lastError, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.JobStatus{}, ErrJobNotFound
		}
		return task.JobStatus{}, err
	}
	if entityID != nil {
		st.EntityID = *entityID
	}
	if lastError != nil {
		st.LastError = *lastError
	}
	return st, nil
}

func (s *JobSink) Update(ctx context.Context, status task.JobStatus) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE enrichment_raw_data SET
			status = $2, attempt_number = $3, max_retries = $4, retryable = $5,
			last_error = $6, updated_at = $7
		WHERE job_id = $1
	`, status.JobID, string(status.Status), status.AttemptNumber, status.MaxRetries,
		status.Retryable, status.LastError, status.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListFailed mirrors InMemoryJobStore.ListFailed's filter/sort/limit
// semantics against the durable table.
func (s *JobSink) ListFailed(ctx context.Context, start, end time.Time, retryableOnly bool, limit int) ([]task.JobStatus, error) {
	query := `
		SELECT job_id, task_name, entity_id, status, attempt_number, max_retries, retryable, last_error, created_at, updated_at
		FROM enrichment_raw_data
		WHERE status = 'failed' AND updated_at BETWEEN $1 AND $2
	`
	args := []interface{}{start, end}
	if retryableOnly {
		query += " AND retryable = true"
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.JobStatus
	for rows.Next() {
		var st task.JobStatus
		var entityID, lastError *string
		if err := rows.Scan(&st.JobID, &st.TaskName, &entityID, &st.Status, &st.AttemptNumber,
			&st.MaxRetries, &st.Retryable, &lastError, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if entityID != nil {
			st.EntityID = *entityID
		}
		if lastError != nil {
			st.LastError = *lastError
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveRawData persists a copy of raw + processed data for an entity within
// a job, per spec §4.8 step 6. Distinct from Create/Update, which track
// job-level lifecycle: one job can emit SaveRawData calls for many
// entities (e.g. a batch of leads).
func (s *JobSink) SaveRawData(ctx context.Context, jobID, tenantID, entityType, entityID, source string, rawData, processedData map[string]interface{}, errorDetails *task.ResultError) error {
	raw, err := json.Marshal(rawData)
	if err != nil {
		return err
	}
	processed, err := json.Marshal(processedData)
	if err != nil {
		return err
	}
	var errJSON []byte
	if errorDetails != nil {
		errJSON, err = json.Marshal(errorDetails)
		if err != nil {
			return err
		}
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO enrichment_raw_data
			(job_id, task_name, tenant_id, entity_type, entity_id, source, status, raw_data, processed_data, error_details, created_at, updated_at)
		VALUES ($1, '', $2, $3, $4, $5, 'completed', $6, $7, $8, now(), now())
		ON CONFLICT (job_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			source = EXCLUDED.source,
			raw_data = EXCLUDED.raw_data,
			processed_data = EXCLUDED.processed_data,
			error_details = EXCLUDED.error_details,
			updated_at = now()
	`, jobID, tenantID, entityType, entityID, source, raw, processed, nullIfEmpty(errJSON))
	return err
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
