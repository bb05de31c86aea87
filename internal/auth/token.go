// ABOUTME: Web chat session token issuing and verification
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// UserIDPrefix marks user ids as web-originated.
const UserIDPrefix = "wc_"

// DefaultTokenTTL is used when the config does not set a TTL.
const DefaultTokenTTL = 24 * time.Hour

// Session is the identity carried by a web chat token. The conversation id
// doubles as the web channel's conversation id for the widget session.
type Session struct {
	UserID         string
	ConversationID string
}

// sessionClaims is the JWT claim set for web chat sessions.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// Issuer mints web chat session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer with the given HS256 secret and token TTL.
// A zero TTL falls back to DefaultTokenTTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue mints a token for a fresh web chat session: a new opaque user id
// (prefixed to distinguish it as web-originated) and a new conversation id.
func (i *Issuer) Issue() (token string, session *Session, err error) {
	session = &Session{
		UserID:         UserIDPrefix + uuid.New().String(),
		ConversationID: uuid.New().String(),
	}

	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ConversationID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: session.UserID,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing session token: %w", err)
	}
	return token, session, nil
}

// Verifier validates web chat session tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier with the given HS256 secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify validates the token and extracts the session identity.
func (v *Verifier) Verify(tokenString string) (*Session, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.UserID == "" {
		return nil, ErrMissingClaim
	}

	return &Session{
		UserID:         claims.UserID,
		ConversationID: claims.Subject,
	}, nil
}
