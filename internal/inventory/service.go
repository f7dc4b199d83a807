package inventory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Repository interface {
	Create(ctx context.Context, name string, stock int) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	Adjust(ctx context.Context, id int64, delta int, key string) (Product, error)
	Void(ctx context.Context, id int64, reserveKey string) (Product, bool, error)
}

// Service owns product stock. Reserve, Release and Void are the only
// mutations.
type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Create(ctx context.Context, name string, stock int) (Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, apperr.Validation("name is required")
	}
	if stock < 0 {
		return Product{}, apperr.Validation("stock must not be negative")
	}
	p, err := s.repo.Create(ctx, name, stock)
	if err != nil {
		return Product{}, err
	}
	s.log.Info("product created", zap.Int64("product_id", p.ID), zap.Int("stock", p.Stock))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, apperr.Validation("product id must be positive")
	}
	return s.repo.Get(ctx, id)
}

// Reserve decrements stock by quantity or fails without changing it.
func (s *Service) Reserve(ctx context.Context, id int64, quantity int, key string) (Product, error) {
	if err := validateMutation(id, quantity); err != nil {
		return Product{}, err
	}
	p, err := s.repo.Adjust(ctx, id, -quantity, key)
	if err != nil {
		s.log.Info("stock reservation rejected", zap.Int64("product_id", id),
			zap.Int("quantity", quantity), zap.Error(err))
		return Product{}, err
	}
	s.log.Info("stock reserved", zap.Int64("product_id", id), zap.Int("quantity", quantity),
		zap.Int("stock", p.Stock), zap.String("idempotency_key", key))
	return p, nil
}

// Release gives quantity back. It compensates an earlier Reserve.
func (s *Service) Release(ctx context.Context, id int64, quantity int, key string) (Product, error) {
	if err := validateMutation(id, quantity); err != nil {
		return Product{}, err
	}
	p, err := s.repo.Adjust(ctx, id, quantity, key)
	if err != nil {
		return Product{}, err
	}
	s.log.Info("stock released", zap.Int64("product_id", id), zap.Int("quantity", quantity),
		zap.Int("stock", p.Stock), zap.String("idempotency_key", key))
	return p, nil
}

// Void undoes the reservation made under reserveKey, if it was made. The
// order service uses it when it can not tell whether a reservation landed.
func (s *Service) Void(ctx context.Context, id int64, reserveKey string) (Product, error) {
	if id <= 0 {
		return Product{}, apperr.Validation("product id must be positive")
	}
	if reserveKey == "" {
		return Product{}, apperr.Validation("reservation key is required")
	}
	p, restored, err := s.repo.Void(ctx, id, reserveKey)
	if err != nil {
		return Product{}, err
	}
	s.log.Info("reservation voided", zap.Int64("product_id", id), zap.String("reservation_key", reserveKey),
		zap.Bool("stock_restored", restored), zap.Int("stock", p.Stock))
	return p, nil
}

func validateMutation(id int64, quantity int) error {
	if id <= 0 {
		return apperr.Validation("product id must be positive")
	}
	if quantity <= 0 {
		return apperr.Validation("quantity must be positive")
	}
	return nil
}
