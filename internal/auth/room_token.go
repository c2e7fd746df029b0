package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultRoomTokenTTL = 4 * time.Hour

var (
	// ErrInvalidRoomToken indicates a malformed or mis-signed room token.
	ErrInvalidRoomToken = errors.New("auth: invalid room token")
	errMissingRoom      = errors.New("room claim must be provided")
)

// RoomClaims binds a live session to one room with the access decided at
// issuance: the level and, for slide-scoped shares, the exact visible slides.
type RoomClaims struct {
	Room          string   `json:"room"`
	AccessLevel   string   `json:"access_level"`
	ShareID       string   `json:"share_id,omitempty"`
	VisibleSlides []string `json:"visible_slides,omitempty"`
	jwt.RegisteredClaims
}

// RoomTokenIssuerConfig configures the live room token issuer.
type RoomTokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// RoomTokenIssuer issues the short-lived tokens a client presents to the live
// replication transport when joining a room.
type RoomTokenIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewRoomTokenIssuer constructs a RoomTokenIssuer with sane defaults.
func NewRoomTokenIssuer(cfg RoomTokenIssuerConfig) *RoomTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultRoomTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RoomTokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}
}

// IssueRoomToken signs a token for the subject scoped to a single room.
func (i *RoomTokenIssuer) IssueRoomToken(_ context.Context, subject, roomID, accessLevel, shareID string, visibleSlides []string) (string, int64, error) {
	if len(i.signingSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if roomID == "" {
		return "", 0, errMissingRoom
	}
	// Share-link visitors carry no subject; the share grant stands in for it.
	if subject == "" && shareID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL).UTC()

	claims := RoomClaims{
		Room:          roomID,
		AccessLevel:   accessLevel,
		ShareID:       shareID,
		VisibleSlides: visibleSlides,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateRoomToken parses a room token and returns its claims.
func (i *RoomTokenIssuer) ValidateRoomToken(tokenString string) (RoomClaims, error) {
	if len(i.signingSecret) == 0 {
		return RoomClaims{}, errMissingSigningSecret
	}

	claims := &RoomClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidRoomToken, token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return RoomClaims{}, fmt.Errorf("%w: %v", ErrInvalidRoomToken, err)
	}
	if parsed == nil || !parsed.Valid || claims.Room == "" {
		return RoomClaims{}, ErrInvalidRoomToken
	}
	return *claims, nil
}
