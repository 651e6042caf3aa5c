package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const tmplCols = `id, surgery_type, title, description, category, day_offset, required, created_at`

func (r *templateRepoPG) scan(row pgx.Row) (*TaskTemplate, error) {
	var t TaskTemplate
	err := row.Scan(&t.ID, &t.SurgeryType, &t.Title, &t.Description,
		&t.Category, &t.DayOffset, &t.Required, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("task template", "")
	}
	return &t, err
}

func (r *templateRepoPG) Create(ctx context.Context, t *TaskTemplate) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO task_template (id, surgery_type, title, description, category, day_offset, required)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		t.ID, t.SurgeryType, t.Title, t.Description, t.Category, t.DayOffset, t.Required).
		Scan(&t.CreatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TaskTemplate, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+tmplCols+` FROM task_template WHERE id = $1`, id))
}

func (r *templateRepoPG) ListBySurgeryType(ctx context.Context, surgeryType string) ([]*TaskTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tmplCols+` FROM task_template
		WHERE surgery_type = $1 ORDER BY day_offset ASC, title ASC`, surgeryType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TaskTemplate
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM task_template WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("task template", id.String())
	}
	return nil
}

// =========== Patient Task Repository ===========

type patientTaskRepoPG struct{ pool *pgxpool.Pool }

func NewPatientTaskRepoPG(pool *pgxpool.Pool) PatientTaskRepository {
	return &patientTaskRepoPG{pool: pool}
}

func (r *patientTaskRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const taskCols = `id, patient_id, template_id, title, description, category,
	scheduled_day, status, status_changed_at, completed_at, created_at, updated_at`

func (r *patientTaskRepoPG) scan(row pgx.Row) (*PatientTask, error) {
	var t PatientTask
	err := row.Scan(&t.ID, &t.PatientID, &t.TemplateID, &t.Title, &t.Description,
		&t.Category, &t.ScheduledDay, &t.Status, &t.StatusChangedAt,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("task", "")
	}
	return &t, err
}

func (r *patientTaskRepoPG) Create(ctx context.Context, t *PatientTask) error {
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = StatusPending
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_task (id, patient_id, template_id, title, description, category, scheduled_day, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING status_changed_at, created_at, updated_at`,
		t.ID, t.PatientID, t.TemplateID, t.Title, t.Description, t.Category, t.ScheduledDay, t.Status).
		Scan(&t.StatusChangedAt, &t.CreatedAt, &t.UpdatedAt)
}

func (r *patientTaskRepoPG) CreateBatch(ctx context.Context, tasks []*PatientTask) error {
	if len(tasks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tasks {
		t.ID = uuid.New()
		if t.Status == "" {
			t.Status = StatusPending
		}
		batch.Queue(`
			INSERT INTO patient_task (id, patient_id, template_id, title, description, category, scheduled_day, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			t.ID, t.PatientID, t.TemplateID, t.Title, t.Description, t.Category, t.ScheduledDay, t.Status)
	}

	conn := r.conn(ctx)
	type batcher interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	}
	sender, ok := conn.(batcher)
	if !ok {
		for _, t := range tasks {
			if _, err := conn.Exec(ctx, `
				INSERT INTO patient_task (id, patient_id, template_id, title, description, category, scheduled_day, status)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				t.ID, t.PatientID, t.TemplateID, t.Title, t.Description, t.Category, t.ScheduledDay, t.Status); err != nil {
				return fmt.Errorf("insert patient task: %w", err)
			}
		}
		return nil
	}

	results := sender.SendBatch(ctx, batch)
	defer results.Close()
	for range tasks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert patient task: %w", err)
		}
	}
	return nil
}

func (r *patientTaskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientTask, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskCols+` FROM patient_task WHERE id = $1`, id))
}

func (r *patientTaskRepoPG) ListForDay(ctx context.Context, patientID uuid.UUID, day int) ([]*PatientTask, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+taskCols+` FROM patient_task
		WHERE patient_id = $1
		  AND (scheduled_day = $2 OR (scheduled_day < $2 AND status IN ('pending','in_progress','overdue')))
		ORDER BY scheduled_day ASC, created_at ASC`, patientID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientTask
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, nil
}

func (r *patientTaskRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*PatientTask, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_task `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT `+taskCols+` FROM patient_task %s
		ORDER BY scheduled_day ASC, created_at ASC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientTask
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}

// SetStatus applies the transition only when changedAt is newer than the
// stored status_changed_at. A stale write leaves the row untouched and the
// current row is returned, so last-write-wins reconciliation falls out of
// the same query.
func (r *patientTaskRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, changedAt time.Time) (*PatientTask, error) {
	t, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_task SET
			status = $2,
			status_changed_at = $3,
			completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status_changed_at < $3
		RETURNING `+taskCols, id, status, changedAt))
	if err == nil {
		return t, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}
	// No row matched: either the id is unknown or the write was stale.
	return r.GetByID(ctx, id)
}

func (r *patientTaskRepoPG) MarkOverdue(ctx context.Context, patientID uuid.UUID, beforeDay int) ([]*PatientTask, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE patient_task SET
			status = 'overdue',
			status_changed_at = NOW(),
			updated_at = NOW()
		WHERE patient_id = $1 AND scheduled_day < $2
		  AND status IN ('pending','in_progress')
		RETURNING `+taskCols, patientID, beforeDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientTask
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, nil
}

func (r *patientTaskRepoPG) PatientsWithOpenTasks(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT patient_id FROM patient_task
		WHERE status IN ('pending','in_progress')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
