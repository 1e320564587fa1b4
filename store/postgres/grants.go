package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/claim"
	"github.com/unkn0wn-root/examcache/model"
)

type Grants struct{ db DB }

func NewGrants(db DB) *Grants { return &Grants{db: db} }

var _ claim.GrantStore = (*Grants)(nil)

func (r *Grants) CreateResource(ctx context.Context, res model.Resource) error {
	if res.Remaining < 0 {
		return fmt.Errorf("postgres: resource %q: negative stock", res.ID)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO claim_resources (id, name, bounded, remaining) VALUES ($1, $2, $3, $4)`,
		res.ID, res.Name, res.Bounded, res.Remaining,
	)
	if err != nil {
		return fmt.Errorf("postgres: create resource %q: %w", res.ID, mapErr(err))
	}
	return nil
}

func (r *Grants) LoadResource(ctx context.Context, id string) (model.Resource, error) {
	var res model.Resource
	err := r.db.QueryRow(ctx,
		`SELECT id, name, bounded, remaining FROM claim_resources WHERE id = $1`, id,
	).Scan(&res.ID, &res.Name, &res.Bounded, &res.Remaining)
	if err != nil {
		return model.Resource{}, fmt.Errorf("postgres: load resource %q: %w", id, mapErr(err))
	}
	return res, nil
}

func (r *Grants) FindGrant(ctx context.Context, resourceID, subjectID string) (model.Grant, error) {
	var g model.Grant
	err := r.db.QueryRow(ctx, `
		SELECT id, resource_id, subject_id, request_id, created_at
		FROM claim_grants WHERE resource_id = $1 AND subject_id = $2`,
		resourceID, subjectID,
	).Scan(&g.ID, &g.ResourceID, &g.SubjectID, &g.RequestID, &g.CreatedAt)
	if err != nil {
		return model.Grant{}, fmt.Errorf("postgres: find grant: %w", mapErr(err))
	}
	return g, nil
}

// PersistGrant takes one unit of persisted stock (bounded resources) and
// inserts g in one transaction. Either both happen or neither does.
func (r *Grants) PersistGrant(ctx context.Context, g model.Grant, bounded bool) (model.Grant, error) {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if bounded {
			tag, err := tx.Exec(ctx,
				`UPDATE claim_resources SET remaining = remaining - 1 WHERE id = $1 AND remaining > 0`,
				g.ResourceID,
			)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return examcache.ErrStockDepleted
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO claim_grants (id, resource_id, subject_id, request_id, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			g.ID, g.ResourceID, g.SubjectID, g.RequestID, g.CreatedAt,
		)
		return err
	})
	if err != nil {
		return model.Grant{}, fmt.Errorf("postgres: persist grant: %w", mapErr(err))
	}
	return g, nil
}

// AdjustStock adds delta to a bounded resource's persisted stock.
func (r *Grants) AdjustStock(ctx context.Context, resourceID string, delta int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		UPDATE claim_resources SET remaining = remaining + $2
		WHERE id = $1 AND bounded
		RETURNING remaining`, resourceID, delta,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: adjust stock %q: %w", resourceID, mapErr(err))
	}
	return n, nil
}
