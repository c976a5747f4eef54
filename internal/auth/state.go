package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StateTTL bounds how long a login may take.
const StateTTL = 10 * time.Minute

const stateIssuer = "modmail-viewer"

// StateClaims is the payload of the OAuth state parameter. ReturnTo is the
// local path to land on after login.
type StateClaims struct {
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"rt,omitempty"`
	jwt.RegisteredClaims
}

// IssueState signs a fresh state carrying returnTo. Anything that is not a
// plain local path is replaced by "/".
func IssueState(returnTo, secret string, ttl time.Duration) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("state nonce: %w", err)
	}
	now := time.Now()
	claims := StateClaims{
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce),
		ReturnTo: SafeReturnPath(returnTo),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    stateIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseState validates a state string and returns its claims.
// Returns an error if it is invalid, expired, or signed with a different key.
func ParseState(tokenStr, secret string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &StateClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(stateIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid state claims")
	}
	return claims, nil
}

// SafeReturnPath keeps p only if it is a path on this site.
func SafeReturnPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
