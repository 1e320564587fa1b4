package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/model"
)

type Questions struct{ db DB }

func NewQuestions(db DB) *Questions { return &Questions{db: db} }

var _ examcache.Loader[model.Question] = (*Questions)(nil)

func (r *Questions) LoadByID(ctx context.Context, id string) (model.Question, error) {
	var q model.Question
	err := r.db.QueryRow(ctx, `
		SELECT id, creator, type, content, options, answer, score, created_at
		FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Creator, &q.Type, &q.Content, &q.Options, &q.Answer, &q.Score, &q.CreatedAt)
	if err != nil {
		return model.Question{}, fmt.Errorf("postgres: load question %q: %w", id, mapErr(err))
	}
	return q, nil
}

func (r *Questions) Create(ctx context.Context, q model.Question) (model.Question, error) {
	if q.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Question{}, err
		}
		q.ID = id.String()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO questions (id, creator, type, content, options, answer, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		q.ID, q.Creator, q.Type, q.Content, nullJSON(q.Options), nullJSON(q.Answer), q.Score,
	).Scan(&q.CreatedAt)
	if err != nil {
		return model.Question{}, fmt.Errorf("postgres: create question: %w", mapErr(err))
	}
	return q, nil
}

// Delete removes question id and its exam links in one transaction.
func (r *Questions) Delete(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE question_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return examcache.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: delete question %q: %w", id, mapErr(err))
	}
	return nil
}

// nullJSON keeps an absent document as SQL NULL instead of a JSON null.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
