package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/keyset"
	"github.com/unkn0wn-root/examcache/model"
)

type Exams struct{ db DB }

func NewExams(db DB) *Exams { return &Exams{db: db} }

var _ keyset.Querier[model.Exam, model.ExamFilter] = (*Exams)(nil)

const examColumns = `id, name, type, difficulty_level, grade_level, total_score, pass_score,
	duration, creator, start_time, end_time, status`

func scanExam(row pgx.CollectableRow) (model.Exam, error) {
	var e model.Exam
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.DifficultyLevel, &e.GradeLevel, &e.TotalScore,
		&e.PassScore, &e.Duration, &e.Creator, &e.StartTime, &e.EndTime, &e.Status)
	e.StartTime, e.EndTime = e.StartTime.UTC(), e.EndTime.UTC()
	return e, err
}

// ExamPosition is the keyset position of an exam: start time, then id.
func ExamPosition(e model.Exam) keyset.Cursor {
	return keyset.Cursor{SortKey: e.StartTime, TieBreak: e.ID}
}

// QueryAfter lists a creator's exams by (start_time DESC, id DESC), strictly
// after the cursor when one is given.
func (r *Exams) QueryAfter(ctx context.Context, f model.ExamFilter, after *keyset.Cursor, limit int) ([]model.Exam, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx, `SELECT `+examColumns+` FROM exams
			WHERE creator = $1
			ORDER BY start_time DESC, id DESC
			LIMIT $2`, f.Creator, limit)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+examColumns+` FROM exams
			WHERE creator = $1
			  AND (start_time < $2 OR (start_time = $2 AND id < $3))
			ORDER BY start_time DESC, id DESC
			LIMIT $4`, f.Creator, after.SortKey, after.TieBreak, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query exams: %w", err)
	}
	exams, err := pgx.CollectRows(rows, scanExam)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan exams: %w", err)
	}
	return exams, nil
}

func (r *Exams) CountByCreator(ctx context.Context, creator string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM exams WHERE creator = $1`, creator).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count exams: %w", err)
	}
	return n, nil
}

func (r *Exams) Create(ctx context.Context, e model.Exam) (model.Exam, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Exam{}, err
		}
		e.ID = id.String()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO exams (`+examColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Name, e.Type, e.DifficultyLevel, e.GradeLevel, e.TotalScore, e.PassScore,
		e.Duration, e.Creator, e.StartTime, e.EndTime, e.Status,
	)
	if err != nil {
		return model.Exam{}, fmt.Errorf("postgres: create exam: %w", mapErr(err))
	}
	return e, nil
}

// Update applies the non-nil fields of ch and returns the stored row. The
// table checks (end after start, pass within total) still apply.
func (r *Exams) Update(ctx context.Context, id string, ch model.ExamChanges) (model.Exam, error) {
	if ch.Empty() {
		return model.Exam{}, fmt.Errorf("postgres: update exam %q: no changes", id)
	}
	rows, err := r.db.Query(ctx, `UPDATE exams SET
			name             = COALESCE($2, name),
			type             = COALESCE($3, type),
			difficulty_level = COALESCE($4, difficulty_level),
			grade_level      = COALESCE($5, grade_level),
			total_score      = COALESCE($6, total_score),
			pass_score       = COALESCE($7, pass_score),
			duration         = COALESCE($8, duration),
			start_time       = COALESCE($9, start_time),
			end_time         = COALESCE($10, end_time),
			status           = COALESCE($11, status)
		WHERE id = $1
		RETURNING `+examColumns,
		id, ch.Name, ch.Type, ch.DifficultyLevel, ch.GradeLevel, ch.TotalScore, ch.PassScore,
		ch.Duration, ch.StartTime, ch.EndTime, ch.Status,
	)
	if err != nil {
		return model.Exam{}, fmt.Errorf("postgres: update exam %q: %w", id, mapErr(err))
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanExam)
	if err != nil {
		return model.Exam{}, fmt.Errorf("postgres: update exam %q: %w", id, mapErr(err))
	}
	return e, nil
}

// AddQuestions links questions to exam examID and returns the ids that were
// not linked before. An unknown question fails the whole call.
func (r *Exams) AddQuestions(ctx context.Context, examID string, questionIDs []string) ([]string, error) {
	ids := make([]string, 0, len(questionIDs))
	seen := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var added []string
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var known int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM questions WHERE id = ANY($1)`, ids).Scan(&known); err != nil {
			return err
		}
		if known != len(ids) {
			return fmt.Errorf("%d of %d questions: %w", len(ids)-known, len(ids), examcache.ErrNotFound)
		}
		rows, err := tx.Query(ctx, `INSERT INTO exam_questions (exam_id, question_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING
			RETURNING question_id`, examID, ids)
		if err != nil {
			return err
		}
		added, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: add questions to exam %q: %w", examID, mapErr(err))
	}
	return added, nil
}

// QuestionIDs lists the questions linked to exam examID, oldest link first.
func (r *Exams) QuestionIDs(ctx context.Context, examID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT question_id FROM exam_questions
		WHERE exam_id = $1 ORDER BY added_at, question_id`, examID)
	if err != nil {
		return nil, fmt.Errorf("postgres: exam questions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: exam questions: %w", err)
	}
	return ids, nil
}
