// Package catalog is the question service: relational writes on questions
// followed by the matching entity cache writer operations.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/model"
)

//go:generate mockgen -source=catalog.go -destination=../mocks/question_repository_mock.go -package=mocks -mock_names=Repository=MockQuestionRepository

// Repository is the relational question store.
type Repository interface {
	LoadByID(ctx context.Context, id string) (model.Question, error)
	Create(ctx context.Context, q model.Question) (model.Question, error)
	// Delete drops the question and its exam links; ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo     Repository
	cache    examcache.EntityCache[model.Question]
	validate *validator.Validate
	log      examcache.Logger
}

func NewService(repo Repository, cache examcache.EntityCache[model.Question], log examcache.Logger) *Service {
	return &Service{repo: repo, cache: cache, validate: validator.New(), log: examcache.OrNop(log)}
}

func (s *Service) Get(ctx context.Context, id string) (model.Question, error) {
	q, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		return model.Question{}, err
	}
	if !ok {
		return model.Question{}, fmt.Errorf("question %q: %w", id, examcache.ErrNotFound)
	}
	return q, nil
}

// Create persists q and publishes it to the cache. Options and Answer, when
// present, must be valid JSON.
func (s *Service) Create(ctx context.Context, q model.Question) (model.Question, error) {
	if err := s.validate.Struct(q); err != nil {
		return model.Question{}, fmt.Errorf("question: invalid: %w", err)
	}
	for name, doc := range map[string]json.RawMessage{"options": q.Options, "answer": q.Answer} {
		if len(doc) > 0 && !json.Valid(doc) {
			return model.Question{}, fmt.Errorf("question: invalid: %s is not JSON", name)
		}
	}
	created, err := s.repo.Create(ctx, q)
	if err != nil {
		return model.Question{}, err
	}
	if err := s.cache.MarkCreated(ctx, created.ID, created); err != nil {
		s.log.Warn("cache publish after create failed", examcache.Fields{"id": created.ID, "err": err})
	}
	return created, nil
}

// Delete removes the question, then tombstones it in the cache so readers
// stop seeing it before the positive entry would expire.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
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
