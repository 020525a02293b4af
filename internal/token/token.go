package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"covenant/internal/platform/middleware"
	dErrors "covenant/pkg/domain-errors"
)

// AccessClaims are the JWT claims carried by user bearer tokens.
type AccessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GrantIntentClaims replay a consent grant through an email deep link. The
// token carries the full grant intent so confirmation needs no server-side
// session: the user, the notice, and the consumer-side identifier awaiting
// linkage.
type GrantIntentClaims struct {
	UserID       string `json:"user_id"`
	NoticeID     string `json:"notice_id"`
	IdentifierID string `json:"identifier_id"`
	Email        string `json:"email"`
	jwt.RegisteredClaims
}

// Service issues and validates the two token kinds used by the consent flow.
type Service struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	grantTTL   time.Duration
}

const defaultGrantTTL = 24 * time.Hour

func NewService(signingKey, issuer string, tokenTTL time.Duration) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
		grantTTL:   defaultGrantTTL,
	}
}

// GenerateAccessToken issues a signed bearer token for an authenticated user.
func (s *Service) GenerateAccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not sign access token")
	}
	return signed, nil
}

// ValidateAccessToken implements middleware.TokenValidator.
func (s *Service) ValidateAccessToken(tokenString string) (*middleware.AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing user id")
	}
	return &middleware.AccessClaims{UserID: claims.UserID, Email: claims.Email}, nil
}

// GenerateGrantIntent issues the signed token embedded in the verification
// email deep link.
func (s *Service) GenerateGrantIntent(userID, noticeID, identifierID, email string) (string, error) {
	now := time.Now()
	claims := GrantIntentClaims{
		UserID:       userID,
		NoticeID:     noticeID,
		IdentifierID: identifierID,
		Email:        email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.grantTTL)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not sign grant intent token")
	}
	return signed, nil
}

// ValidateGrantIntent parses and verifies a grant intent token from a deep link.
func (s *Service) ValidateGrantIntent(tokenString string) (*GrantIntentClaims, error) {
	claims := &GrantIntentClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.NoticeID == "" || claims.IdentifierID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "grant intent token incomplete")
	}
	return claims, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return nil
}
