package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultTokenTTL = 24 * time.Hour

// Claims — полезная нагрузка bearer-токена.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenService выпускает и проверяет HS256 JWT.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption настраивает TokenService.
type TokenOption func(*TokenService)

// WithIssuer задаёт значение claim iss, которое выставляется и проверяется.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		s.issuer = issuer
	}
}

// WithTTL задаёт время жизни выпускаемых токенов.
func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService создаёт сервис токенов с общим секретом.
func NewTokenService(secret string, options ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	s := &TokenService{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Issue подписывает токен для principal.
func (s *TokenService) Issue(principal domain.Principal) (string, error) {
	if principal.ID == "" {
		return "", fmt.Errorf("%w: principal id is required", domain.ErrInvalidInput)
	}
	role := principal.Role
	if role == "" {
		role = domain.RoleUser
	}

	now := s.now().UTC()
	claims := Claims{
		Role: string(role),
		Name: principal.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify проверяет подпись и срок токена и возвращает principal.
// Любая ошибка проверки оборачивает domain.ErrUnauthorized.
func (s *TokenService) Verify(raw string) (*domain.Principal, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token subject is empty", domain.ErrUnauthorized)
	}

	role := domain.Role(claims.Role)
	switch role {
	case "":
		role = domain.RoleUser
	case domain.RoleUser, domain.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, claims.Role)
	}

	return &domain.Principal{
		ID:   claims.Subject,
		Role: role,
		Name: claims.Name,
	}, nil
}
