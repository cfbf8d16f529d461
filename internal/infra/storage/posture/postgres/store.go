// Package postgres persists scan records in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/storage"
)

// recordStore implements posture.FindingStore on a single scan_records table.
// Findings, markers, snapshots, status records, and artifacts all share the
// (job_id, resource_id, record_name) key space so a job's transient subset can
// be purged in one statement.
var _ posture.FindingStore = (*recordStore)(nil)

type recordStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewRecordStore creates a PostgreSQL-backed finding store with tracing.
func NewRecordStore(pool *pgxpool.Pool, tracer trace.Tracer) *recordStore {
	return &recordStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Put writes or overwrites the record under key.
func (s *recordStore) Put(ctx context.Context, key posture.RecordKey, payload []byte) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", key.JobID.String()),
		attribute.String("record_name", key.Name),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_record", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		_, err := s.db.Exec(ctx, `
			INSERT INTO scan_records (job_id, resource_id, record_name, transient, payload, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (job_id, resource_id, record_name)
			DO UPDATE SET payload = EXCLUDED.payload, transient = EXCLUDED.transient, updated_at = NOW()`,
			key.JobID, key.ResourceID, key.Name, key.Transient(), payload,
		)
		if err != nil {
			return fmt.Errorf("put record %s: %w", key, err)
		}
		return nil
	})
}

// Get returns the record payload or posture.ErrRecordNotFound.
func (s *recordStore) Get(ctx context.Context, key posture.RecordKey) ([]byte, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", key.JobID.String()),
		attribute.String("record_name", key.Name),
	)

	var payload []byte
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_record", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, `
			SELECT payload FROM scan_records
			WHERE job_id = $1 AND resource_id = $2 AND record_name = $3`,
			key.JobID, key.ResourceID, key.Name,
		)
		if err := row.Scan(&payload); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return posture.ErrRecordNotFound
			}
			return fmt.Errorf("get record %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// List returns every record under the job prefix.
func (s *recordStore) List(ctx context.Context, jobID uuid.UUID) ([]posture.Record, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var records []posture.Record
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_records", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT resource_id, record_name, payload, updated_at
			FROM scan_records WHERE job_id = $1
			ORDER BY resource_id, record_name`,
			jobID,
		)
		if err != nil {
			return fmt.Errorf("list records for job %s: %w", jobID, err)
		}
		defer rows.Close()

		for rows.Next() {
			rec := posture.Record{Key: posture.RecordKey{JobID: jobID}}
			if err := rows.Scan(&rec.Key.ResourceID, &rec.Key.Name, &rec.Payload, &rec.UpdatedAt); err != nil {
				return fmt.Errorf("scanning record row: %w", err)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteTransient removes findings, markers, and policy snapshots for the job,
// leaving status records and final artifacts in place.
func (s *recordStore) DeleteTransient(ctx context.Context, jobID uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_transient_records", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `DELETE FROM scan_records WHERE job_id = $1 AND transient`, jobID)
		if err != nil {
			return fmt.Errorf("delete transient records for job %s: %w", jobID, err)
		}
		return nil
	})
}
