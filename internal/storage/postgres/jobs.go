package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

func (s *Store) GetJob(ctx context.Context, id string) (domain.PipelineJob, error) {
	var job domain.PipelineJob
	var status string
	var args, output []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, connector_id, tool_name, status, args, output, error, started_at, finished_at, created_at
		FROM pipeline_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.UserID, &job.ConnectorID, &job.ToolName, &status,
			&args, &output, &job.Error, &job.StartedAt, &job.FinishedAt, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PipelineJob{}, domain.NewNotFoundError("job not found")
		}
		return domain.PipelineJob{}, fmt.Errorf("failed to scan job: %w", err)
	}

	if err := json.Unmarshal(args, &job.Args); err != nil {
		return domain.PipelineJob{}, fmt.Errorf("failed to decode job args: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.Output = output
	return job, nil
}

// CreateJob inserts the job, or resets an existing row carrying the same
// caller-supplied id. The pipeline performs no deduplication.
func (s *Store) CreateJob(ctx context.Context, job domain.PipelineJob) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("failed to encode job args: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_jobs (id, user_id, connector_id, tool_name, status, args, output, error, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET user_id      = EXCLUDED.user_id,
		    connector_id = EXCLUDED.connector_id,
		    tool_name    = EXCLUDED.tool_name,
		    status       = EXCLUDED.status,
		    args         = EXCLUDED.args,
		    output       = EXCLUDED.output,
		    error        = EXCLUDED.error,
		    started_at   = EXCLUDED.started_at,
		    finished_at  = EXCLUDED.finished_at`,
		job.ID, job.UserID, job.ConnectorID, job.ToolName, string(job.Status),
		args, []byte(job.Output), job.Error, job.StartedAt, job.FinishedAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job domain.PipelineJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_jobs
		SET status = $2, output = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1`,
		job.ID, string(job.Status), []byte(job.Output), job.Error, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("job not found")
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, event domain.PipelineEvent) error {
	var data []byte
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		data = encoded
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_events (id, job_id, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.JobID, string(event.Level), event.Message, data, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pipeline event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, jobID string) ([]domain.PipelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, level, message, data, created_at
		FROM pipeline_events WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline events: %w", err)
	}
	defer rows.Close()

	var events []domain.PipelineEvent
	for rows.Next() {
		var event domain.PipelineEvent
		var level string
		var data []byte

		if err := rows.Scan(&event.ID, &event.JobID, &level, &event.Message, &data, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline event: %w", err)
		}

		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}

		event.Level = domain.EventLevel(level)
		events = append(events, event)
	}

	return events, rows.Err()
}

func (s *Store) AppendActionLog(ctx context.Context, entry domain.ActionLog) error {
	args, err := json.Marshal(entry.RequestArgs)
	if err != nil {
		return fmt.Errorf("failed to encode action log args: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO action_logs (id, user_id, connector_id, tool_name, request_args, response, status, error, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.UserID, entry.ConnectorID, entry.ToolName, args,
		[]byte(entry.Response), string(entry.Status), entry.Error, entry.LatencyMS, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}
	return nil
}
