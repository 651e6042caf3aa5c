package conversation

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

// =========== Conversation Repository ===========

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const convCols = `id, patient_id, status, created_at, updated_at`

func (r *conversationRepoPG) scan(row pgx.Row) (*Conversation, error) {
	var cv Conversation
	err := row.Scan(&cv.ID, &cv.PatientID, &cv.Status, &cv.CreatedAt, &cv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("conversation", "")
	}
	return &cv, err
}

// GetOrCreateActive relies on the partial unique index
// conversation_one_active_per_patient (patient_id WHERE status='active').
// The insert-then-select pair is race-free: a concurrent insert loses the
// conflict and both callers read the same surviving row. On a tenant-scoped
// connection the pair runs in one transaction so the select is guaranteed to
// observe the insert's outcome.
func (r *conversationRepoPG) GetOrCreateActive(ctx context.Context, patientID uuid.UUID) (*Conversation, error) {
	if db.ConnFromContext(ctx) != nil && db.TxFromContext(ctx) == nil {
		txCtx, tx, err := db.WithTx(ctx)
		if err != nil {
			return nil, err
		}
		cv, err := r.getOrCreateActive(txCtx, patientID)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit conversation upsert: %w", err)
		}
		return cv, nil
	}
	return r.getOrCreateActive(ctx, patientID)
}

func (r *conversationRepoPG) getOrCreateActive(ctx context.Context, patientID uuid.UUID) (*Conversation, error) {
	conn := r.conn(ctx)

	_, err := conn.Exec(ctx, `
		INSERT INTO conversation (id, patient_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (patient_id) WHERE status = 'active' DO NOTHING`,
		uuid.New(), patientID)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return r.scan(conn.QueryRow(ctx, `
		SELECT `+convCols+` FROM conversation
		WHERE patient_id = $1 AND status = 'active'`, patientID))
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+convCols+` FROM conversation WHERE id = $1`, id))
}

func (r *conversationRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE conversation SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("conversation", id.String())
	}
	return nil
}

func (r *conversationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Conversation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+convCols+` FROM conversation WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		cv, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cv)
	}
	return items, total, nil
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const msgCols = `id, conversation_id, sender, content, pain_level, actions, read_at, created_at`

func (r *messageRepoPG) scan(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content,
		&m.PainLevel, &m.Actions, &m.ReadAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("message", "")
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (id, conversation_id, sender, content, pain_level, actions)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.Sender, m.Content, m.PainLevel, m.Actions).
		Scan(&m.CreatedAt)
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM message WHERE id = $1`, id))
}

// ListByConversation orders ascending by creation time with id as the
// tiebreaker so same-timestamp inserts keep a stable order.
func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM message WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, nil
}

func (r *messageRepoPG) Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM (
			SELECT `+msgCols+` FROM message WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		) recent ORDER BY created_at ASC, id ASC`, conversationID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE message SET read_at = NOW() WHERE id = $1 AND read_at IS NULL`, id)
	if err != nil {
		return err
	}
	// Zero rows means either unknown id or already read; distinguish them.
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM message WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("message", id.String())
		}
	}
	return nil
}
