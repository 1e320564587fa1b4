// Package profile is the user service: relational writes followed by the
// matching entity cache writer operations.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/model"
)

//go:generate mockgen -source=profile.go -destination=../mocks/repository_mock.go -package=mocks

// Repository is the relational user store.
type Repository interface {
	LoadByID(ctx context.Context, id string) (model.User, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	Update(ctx context.Context, u model.User) error
	SoftDelete(ctx context.Context, id string) error
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type Service struct {
	repo     Repository
	cache    examcache.EntityCache[model.User]
	validate *validator.Validate
	log      examcache.Logger
}

func NewService(repo Repository, cache examcache.EntityCache[model.User], log examcache.Logger) *Service {
	log = examcache.OrNop(log)
	return &Service{repo: repo, cache: cache, validate: validator.New(), log: log}
}

// Get reads through the cache. A missing or deleted user is ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (model.User, error) {
	u, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, fmt.Errorf("user %q: %w", id, examcache.ErrNotFound)
	}
	return u, nil
}

// Create persists u and publishes it to the cache. A cache failure is logged;
// the user exists either way and the next read backfills.
func (s *Service) Create(ctx context.Context, u model.User) (model.User, error) {
	if err := s.validate.Struct(u); err != nil {
		return model.User{}, fmt.Errorf("user: invalid: %w", err)
	}
	created, err := s.repo.Create(ctx, u)
	if err != nil {
		return model.User{}, err
	}
	if err := s.cache.MarkCreated(ctx, created.ID, created); err != nil {
		s.log.Warn("cache publish after create failed", examcache.Fields{"id": created.ID, "err": err})
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, u model.User) error {
	if err := s.validate.Struct(u); err != nil {
		return fmt.Errorf("user: invalid: %w", err)
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, u.ID); err != nil {
		s.log.Warn("cache invalidate after update failed", examcache.Fields{"id": u.ID, "err": err})
		return nil
	}
	if err := s.cache.Put(ctx, u.ID, u); err != nil {
		s.log.Warn("cache refresh after update failed", examcache.Fields{"id": u.ID, "err": err})
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.MarkDeleted(ctx, id); err != nil {
		var ie *examcache.InvalidateError
		if errors.As(err, &ie) {
			s.log.Warn("cache tombstone after delete incomplete", examcache.Fields{"id": id, "err": ie})
			return nil
		}
		return err
	}
	return nil
}

// WarmIndex loads every live user id into the cache's existence index.
func (s *Service) WarmIndex(ctx context.Context) (int, error) {
	ids, err := s.repo.ListActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Warm(ctx, ids...); err != nil {
		return 0, fmt.Errorf("user: warm index: %w", err)
	}
	s.log.Info("existence index warmed", examcache.Fields{"count": len(ids)})
	return len(ids), nil
}
