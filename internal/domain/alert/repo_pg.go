package alert

import (
	"context"
	"errors"
	"fmt"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const alertCols = `id, patient_id, conversation_id, source, severity, status, pain_level,
	message, acknowledged_by, acknowledged_at, resolved_at, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.PatientID, &a.ConversationID, &a.Source, &a.Severity,
		&a.Status, &a.PainLevel, &a.Message, &a.AcknowledgedBy, &a.AcknowledgedAt,
		&a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("alert", "")
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusOpen
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, conversation_id, source, severity, status, pain_level, message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.ConversationID, a.Source, a.Severity, a.Status, a.PainLevel, a.Message).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *repoPG) Acknowledge(ctx context.Context, id uuid.UUID, userID string) (*Alert, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE alert SET
			status = 'acknowledged',
			acknowledged_by = $2,
			acknowledged_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING `+alertCols, id, userID))
	if err == nil {
		return a, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}
	// Either unknown or already past open; return the current row.
	return r.GetByID(ctx, id)
}

func (r *repoPG) Resolve(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE alert SET
			status = 'resolved',
			resolved_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING `+alertCols, id))
	if err == nil {
		return a, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *repoPG) List(ctx context.Context, status, severity string, limit, offset int) ([]*Alert, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if severity != "" {
		args = append(args, severity)
		where += fmt.Sprintf(` AND severity = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM alert `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT `+alertCols+` FROM alert %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM alert WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM alert WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}
