// Package cart реализует корзину покупателя поверх CartRepository
// с необязательным read-through кэшем.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const cacheOpTimeout = time.Second

// Service — операции корзины от имени principal.
type Service struct {
	repo    domain.CartRepository
	cache   domain.CartCache
	logger  *log.Entry
	metrics *metrics.CommerceMetrics
	reads   singleflight.Group
}

// Option настраивает Service.
type Option func(*Service)

// WithCache включает read-through кэш корзин.
func WithCache(cache domain.CartCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт бизнес-метрики.
func WithMetrics(m *metrics.CommerceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт сервис корзины.
func NewService(repo domain.CartRepository, options ...Option) *Service {
	s := &Service{repo: repo}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-service")
	}
	return s
}

// GetCart возвращает корзину principal'а; для отсутствующей возвращает пустую.
func (s *Service) GetCart(ctx context.Context, principal *domain.Principal) (domain.Cart, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.Cart{}, err
	}
	if err := auth.AuthorizeCart(principal, principal.ID); err != nil {
		return domain.Cart{}, err
	}
	ownerID := principal.ID

	if s.cache == nil {
		return s.repo.Get(ctx, ownerID)
	}

	v, err, _ := s.reads.Do(ownerID, func() (any, error) {
		cached, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.WithError(err).WithField("owner_id", ownerID).Warn("cart cache read failed")
		}

		// Поколение читается до репозитория: сброс, случившийся после чтения, сменит его.
		generation, genErr := s.cache.Generation(ctx, ownerID)
		cart, err := s.repo.Get(ctx, ownerID)
		if err != nil {
			return domain.Cart{}, err
		}
		if genErr != nil {
			s.logger.WithError(genErr).WithField("owner_id", ownerID).Warn("cart cache generation read failed")
			return cart, nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
		defer cancel()
		stored, err := s.cache.Set(setCtx, cart, generation)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("owner_id", ownerID).Warn("cart cache write failed")
		case !stored:
			s.logger.WithField("owner_id", ownerID).Debug("cart changed while reading, cache write skipped")
		}
		return cart, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return v.(domain.Cart).Clone(), nil
}

// Snapshot читает корзину мимо кэша; используется при оформлении заказа.
func (s *Service) Snapshot(ctx context.Context, principal *domain.Principal) (domain.Cart, error) {
	if err := auth.RequirePrincipal(principal); err != nil {
		return domain.Cart{}, err
	}
	return s.repo.Get(ctx, principal.ID)
}

// AddItem прибавляет quantity единиц товара к корзине principal'а.
func (s *Service) AddItem(ctx context.Context, principal *domain.Principal, productID string, quantity int) error {
	if err := auth.RequirePrincipal(principal); err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidInput)
	}
	if quantity < 1 || quantity > math.MaxInt32 {
		return fmt.Errorf("%w: quantity must be a positive integer", domain.ErrInvalidInput)
	}

	if err := s.repo.AddLine(ctx, principal.ID, productID, int32(quantity)); err != nil {
		return err
	}
	s.Evict(ctx, principal.ID)
	s.metrics.RecordCartItemAdded()
	return nil
}

// RemoveLines вычитает lines из корзины principal'а. Оформление заказа убирает так
// только то, что вошло в заказ.
func (s *Service) RemoveLines(ctx context.Context, principal *domain.Principal, lines []domain.CartLine) error {
	if err := auth.RequirePrincipal(principal); err != nil {
		return err
	}
	if err := s.repo.RemoveLines(ctx, principal.ID, lines); err != nil {
		return err
	}
	s.Evict(ctx, principal.ID)
	return nil
}

// ClearCart удаляет корзину principal'а; пустая корзина не считается ошибкой.
func (s *Service) ClearCart(ctx context.Context, principal *domain.Principal) error {
	if err := auth.RequirePrincipal(principal); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, principal.ID); err != nil {
		return err
	}
	s.Evict(ctx, principal.ID)
	return nil
}

// Evict сбрасывает запись кэша. Ошибка кэша только логируется.
func (s *Service) Evict(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.logger.WithError(err).WithField("owner_id", ownerID).Warn("cart cache invalidation failed")
	}
}
