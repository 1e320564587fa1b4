package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/model"
)

type Users struct{ db DB }

func NewUsers(db DB) *Users { return &Users{db: db} }

var _ examcache.Loader[model.User] = (*Users)(nil)

const selectUser = `
	SELECT u.id, u.name, u.role, u.status,
	       p.user_id, p.phone, p.email, p.address, p.avatar, p.birthday
	FROM users u
	LEFT JOIN user_profiles p ON p.user_id = u.id
	WHERE u.deleted_at IS NULL AND `

func scanUser(row pgx.Row) (model.User, error) {
	var (
		u         model.User
		profileID *string
		p         model.Profile
	)
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Status,
		&profileID, &p.Phone, &p.Email, &p.Address, &p.Avatar, &p.Birthday)
	if err != nil {
		return model.User{}, mapErr(err)
	}
	if profileID != nil {
		if p.Birthday != nil {
			b := p.Birthday.UTC()
			p.Birthday = &b
		}
		u.Profile = &p
	}
	return u, nil
}

// LoadByID returns a live user. Soft-deleted users are ErrNotFound.
func (r *Users) LoadByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUser+`u.id = $1`, id))
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: load user %q: %w", id, err)
	}
	return u, nil
}

func (r *Users) LoadByName(ctx context.Context, name string) (model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUser+`u.name = $1`, name))
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: load user by name %q: %w", name, err)
	}
	return u, nil
}

// Create inserts u and its profile. An empty ID is assigned a UUIDv7.
// A taken name is ErrConflict.
func (r *Users) Create(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.User{}, err
		}
		u.ID = id.String()
	}
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, name, role, status) VALUES ($1, $2, $3, $4)`,
			u.ID, u.Name, u.Role, u.Status,
		); err != nil {
			return err
		}
		return upsertProfile(ctx, tx, u.ID, u.Profile)
	})
	if err != nil {
		return model.User{}, fmt.Errorf("postgres: create user %q: %w", u.Name, mapErr(err))
	}
	return u, nil
}

// Update replaces the user row and its profile. A nil profile removes it.
func (r *Users) Update(ctx context.Context, u model.User) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET name = $2, role = $3, status = $4, updated_at = now()
			 WHERE id = $1 AND deleted_at IS NULL`,
			u.ID, u.Name, u.Role, u.Status,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return upsertProfile(ctx, tx, u.ID, u.Profile)
	})
	if err != nil {
		return fmt.Errorf("postgres: update user %q: %w", u.ID, mapErr(err))
	}
	return nil
}

func upsertProfile(ctx context.Context, tx pgx.Tx, userID string, p *model.Profile) error {
	if p == nil {
		_, err := tx.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO user_profiles (user_id, phone, email, address, avatar, birthday)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			phone = EXCLUDED.phone, email = EXCLUDED.email, address = EXCLUDED.address,
			avatar = EXCLUDED.avatar, birthday = EXCLUDED.birthday`,
		userID, p.Phone, p.Email, p.Address, p.Avatar, p.Birthday,
	)
	return err
}

func (r *Users) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: delete user %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete user %q: %w", id, examcache.ErrNotFound)
	}
	return nil
}

// ListActiveIDs returns every live user id, for warming the existence index.
func (r *Users) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list user ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list user ids: %w", err)
	}
	return ids, nil
}
