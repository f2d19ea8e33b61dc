package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/robot-control/rcp/internal/config"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// RS256
	PublicKeyPEM string
	JWKSURL      string

	// HS256
	SecretKey string

	Algorithm string // "RS256" or "HS256"

	JWKSRefreshInterval time.Duration
	JWKSCacheTimeout    time.Duration
}

// VerifierConfigFrom maps the auth section of the service config.
func VerifierConfigFrom(cfg config.AuthConfig) VerifierConfig {
	return VerifierConfig{
		PublicKeyPEM:        cfg.PublicKeyPEM,
		JWKSURL:             cfg.JWKSURL,
		SecretKey:           cfg.SecretKey,
		Algorithm:           cfg.Algorithm,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		JWKSCacheTimeout:    cfg.JWKSCacheTimeout,
	}
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type jwksEntry struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// Verifier checks JWT signatures and extracts Claims.
type Verifier struct {
	config     VerifierConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client

	jwksMu    sync.RWMutex
	jwksCache map[string]jwksEntry
	lastFetch time.Time

	// serializes JWKS refreshes
	fetchMu sync.Mutex

	now func() time.Time
}

// NewVerifier creates a verifier. RS256 with a JWKS URL fetches the key set up front.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{
		config:     cfg,
		jwksCache:  make(map[string]jwksEntry),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}

	switch cfg.Algorithm {
	case "RS256":
		if cfg.PublicKeyPEM == "" && cfg.JWKSURL == "" {
			return nil, fmt.Errorf("RS256 requires a public key or a JWKS URL")
		}
		if cfg.PublicKeyPEM != "" {
			if err := v.loadPublicKeyFromPEM(cfg.PublicKeyPEM); err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
		}
		if cfg.JWKSURL != "" {
			if err := v.fetchJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a JWT and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	mapClaims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, mapClaims, v.keyFunc,
		jwt.WithValidMethods([]string{v.config.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return extractClaims(mapClaims)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch v.config.Algorithm {
	case "HS256":
		return []byte(v.config.SecretKey), nil
	case "RS256":
		kid, ok := token.Header["kid"].(string)
		if !ok {
			if v.publicKey == nil {
				return nil, fmt.Errorf("no public key available")
			}
			return v.publicKey, nil
		}
		key, err := v.getKeyFromJWKS(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get key from JWKS: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", v.config.Algorithm)
	}
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	roles, err := extractStringSlice(claims, "roles")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'roles' claim: %w", err)
	}
	scopes, err := extractStringSlice(claims, "scopes")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'scopes' claim: %w", err)
	}
	if !allIn(roles, RoleViewer, RoleOperator, RoleAdmin) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !allIn(scopes, ScopeRead, ScopeControl, ScopeTelemetry) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}

	level := 0
	if raw, ok := claims["accessLevel"]; ok {
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
			return nil, fmt.Errorf("invalid 'accessLevel' claim: %v", raw)
		}
		level = int(f)
	}

	var expiresAt time.Time
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("invalid 'exp' claim: %w", err)
	}
	if exp != nil {
		expiresAt = exp.Time.UTC()
	}

	return &Claims{
		Subject:     sub,
		Roles:       roles,
		Scopes:      scopes,
		AccessLevel: level,
		ExpiresAt:   expiresAt,
	}, nil
}

func extractStringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	value, ok := claims[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

// allIn reports whether values is non-empty and every value is allowed.
func allIn(values []string, allowed ...string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		found := false
		for _, a := range allowed {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}

	v.publicKey = rsaPub
	return nil
}

// fetchJWKS downloads the key set and replaces the cache.
func (v *Verifier) fetchJWKS() error {
	if v.config.JWKSURL == "" {
		return fmt.Errorf("JWKS URL not configured")
	}

	resp, err := v.httpClient.Get(v.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKSet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	now := v.now()
	cache := make(map[string]jwksEntry, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" || key.Alg != "RS256" {
			continue
		}
		pubKey, err := jwkToRSAPublicKey(key)
		if err != nil {
			continue
		}
		cache[key.Kid] = jwksEntry{key: pubKey, fetchedAt: now}
	}

	v.jwksMu.Lock()
	v.jwksCache = cache
	v.lastFetch = now
	v.jwksMu.Unlock()
	return nil
}

// getKeyFromJWKS returns a cached key, refreshing the set when the entry is
// missing or stale and the refresh interval has passed.
func (v *Verifier) getKeyFromJWKS(kid string) (*rsa.PublicKey, error) {
	v.jwksMu.RLock()
	entry, exists := v.jwksCache[kid]
	lastFetch := v.lastFetch
	v.jwksMu.RUnlock()

	if exists && v.now().Sub(entry.fetchedAt) < v.config.JWKSCacheTimeout {
		return entry.key, nil
	}

	if v.now().Sub(lastFetch) > v.config.JWKSRefreshInterval {
		v.fetchMu.Lock()
		v.jwksMu.RLock()
		stillStale := v.lastFetch.Equal(lastFetch)
		v.jwksMu.RUnlock()
		if stillStale {
			if err := v.fetchJWKS(); err != nil {
				v.fetchMu.Unlock()
				return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
			}
		}
		v.fetchMu.Unlock()

		v.jwksMu.RLock()
		entry, exists = v.jwksCache[kid]
		v.jwksMu.RUnlock()
	}

	if exists {
		return entry.key, nil
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 || len(e) > 4 {
		return nil, fmt.Errorf("invalid RSA key parameters")
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: exp,
	}, nil
}

// base64URLDecode accepts padded and unpadded base64url.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
