package services

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/sueda-gl/bookspire-backend-public/internal/pkg/errors"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// Identity is the admitted participant behind a connection.
type Identity struct {
	UserID        uuid.UUID
	ParticipantID string
	Anonymous     bool
}

// AuthService turns an opaque credential into an identity. The credential is
// a bearer JWT; an empty credential admits an anonymous participant when
// ALLOW_ANONYMOUS is on.
type AuthService interface {
	Authenticate(credential string) (Identity, error)
}

type authService struct {
	log            *logger.Logger
	jwtSecretKey   string
	allowAnonymous bool
}

func NewAuthService(log *logger.Logger) (AuthService, error) {
	secret := envutil.Get("AUTH_JWT_SECRET", "")
	allowAnon := strings.EqualFold(envutil.Get("ALLOW_ANONYMOUS", "true"), "true")
	if secret == "" && !allowAnon {
		return nil, fmt.Errorf("missing AUTH_JWT_SECRET with anonymous access disabled")
	}
	return &authService{
		log:            log.With("service", "AuthService"),
		jwtSecretKey:   secret,
		allowAnonymous: allowAnon,
	}, nil
}

func (as *authService) Authenticate(credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))

	if credential == "" {
		if !as.allowAnonymous {
			return Identity{}, fmt.Errorf("%w: credential required", apperrors.ErrUnauthorized)
		}
		id := uuid.New()
		return Identity{
			UserID:        id,
			ParticipantID: "anon-" + id.String()[:8],
			Anonymous:     true,
		}, nil
	}

	if as.jwtSecretKey == "" {
		return Identity{}, fmt.Errorf("%w: token auth not configured", apperrors.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(credential, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid subject", apperrors.ErrUnauthorized)
	}
	return Identity{UserID: userID, ParticipantID: userID.String()}, nil
}
