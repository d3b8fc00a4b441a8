package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Token audiences. A token is only accepted by the validator of its own kind.
const (
	AudienceIdentity = "identity"
	AudienceSession  = "session"
	AudienceOwner    = "lobby-owner"
)

// Claims identify a registered player.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	jwt.RegisteredClaims
}

// SessionClaims bind a single-player session token to its owner, mode and atlas.
type SessionClaims struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Mode      string    `json:"mode"`
	Atlas     string    `json:"atlas"`
	jwt.RegisteredClaims
}

// OwnerClaims prove ownership of a multiplayer lobby.
type OwnerClaims struct {
	Code    string    `json:"code"`
	OwnerID uuid.UUID `json:"owner_id"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	sessionTTL  time.Duration
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int, sessionTTL time.Duration) *JWTService {
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		sessionTTL:  sessionTTL,
	}
}

func (s *JWTService) registered(audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}
}

func (s *JWTService) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *JWTService) parse(tokenString, audience string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithAudience(audience))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// Generate creates an identity token for the user.
func (s *JWTService) Generate(userID uuid.UUID, username string) (string, error) {
	return s.sign(Claims{
		UserID:           userID,
		Username:         username,
		RegisteredClaims: s.registered(AudienceIdentity, time.Duration(s.expireHours)*time.Hour),
	})
}

// Validate parses and validates an identity token.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	var claims Claims
	if err := s.parse(tokenString, AudienceIdentity, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// SignSession creates a short-lived single-player session token.
func (s *JWTService) SignSession(sessionID, userID uuid.UUID, mode, atlas string) (string, error) {
	return s.sign(SessionClaims{
		SessionID:        sessionID,
		UserID:           userID,
		Mode:             mode,
		Atlas:            atlas,
		RegisteredClaims: s.registered(AudienceSession, s.sessionTTL),
	})
}

// ValidateSession parses a session token.
func (s *JWTService) ValidateSession(tokenString string) (*SessionClaims, error) {
	var claims SessionClaims
	if err := s.parse(tokenString, AudienceSession, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// SignOwner creates the owner token of a multiplayer lobby.
func (s *JWTService) SignOwner(code string, ownerID uuid.UUID) (string, error) {
	return s.sign(OwnerClaims{
		Code:             code,
		OwnerID:          ownerID,
		RegisteredClaims: s.registered(AudienceOwner, time.Duration(s.expireHours)*time.Hour),
	})
}

// ValidateOwner parses an owner token.
func (s *JWTService) ValidateOwner(tokenString string) (*OwnerClaims, error) {
	var claims OwnerClaims
	if err := s.parse(tokenString, AudienceOwner, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}
