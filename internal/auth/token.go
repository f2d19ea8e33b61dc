package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mapClaims(claims Claims, ttl time.Duration, now time.Time) jwt.MapClaims {
	out := jwt.MapClaims{
		"sub":         claims.Subject,
		"roles":       claims.Roles,
		"scopes":      claims.Scopes,
		"accessLevel": claims.AccessLevel,
		"iat":         now.Unix(),
	}
	if ttl != 0 {
		out["exp"] = now.Add(ttl).Unix()
	}
	return out
}

// IssueHS256 signs claims with secret. A zero ttl issues a token without expiry.
func IssueHS256(secret string, claims Claims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("HS256 requires secret key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims(claims, ttl, time.Now()))
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueRS256 signs claims with key, setting kid in the header when non-empty.
func IssueRS256(key *rsa.PrivateKey, kid string, claims Claims, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims(claims, ttl, time.Now()))
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
