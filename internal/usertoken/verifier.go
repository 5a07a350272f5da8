package usertoken

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"sermonflow/pkg/domain"
)

const (
	defaultAudience     = "authenticated"
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid token")
	errUnknownKey   = errors.New("unknown token key")
)

// Config configures verification of access tokens issued by the managed
// backend. At least one of Secret (HS256) or JWKSURL (RS256) is required.
// An empty Issuer is not checked.
type Config struct {
	Secret     string
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Identity is the verified caller.
type Identity struct {
	Subject string
	Email   string
	Role    domain.UserRole
}

// User converts the identity into the actor passed to app operations.
func (i Identity) User() domain.User {
	return domain.User{ID: i.Subject, Email: i.Email, Role: i.Role}
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

// Verifier validates user access tokens.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	secret   []byte
	methods  []string

	jwksURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	rsaKeys    map[string]any
	keysExpire time.Time
}

// NewVerifier creates a token verifier. With a JWKS URL the key set is
// fetched once up front so misconfiguration fails at startup.
func NewVerifier(cfg Config) (*Verifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	v := &Verifier{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: audience,
		leeway:   leeway,
	}

	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		v.secret = []byte(secret)
		v.methods = append(v.methods, jwt.SigningMethodHS256.Alg())
	}
	if jwksURL := strings.TrimSpace(cfg.JWKSURL); jwksURL != "" {
		v.jwksURL = jwksURL
		v.methods = append(v.methods, jwt.SigningMethodRS256.Alg())
		if cfg.HTTPClient != nil {
			v.httpClient = cfg.HTTPClient
		} else {
			v.httpClient = &http.Client{Timeout: 5 * time.Second}
		}
		if err := v.refreshJWKS(); err != nil {
			return nil, err
		}
	}
	if len(v.methods) == 0 {
		return nil, errors.New("token verifier requires a secret or jwksURL")
	}
	return v, nil
}

// Verify validates the token and returns the caller identity. Only
// app_metadata.role can grant admin; the top-level role claim is the
// backend's database role and is ignored.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims, err := v.verify(strings.TrimSpace(token))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	role := domain.RoleUser
	if strings.EqualFold(strings.TrimSpace(claims.AppMetadata.Role), string(domain.RoleAdmin)) {
		role = domain.RoleAdmin
	}
	return Identity{Subject: subject, Email: strings.TrimSpace(claims.Email), Role: role}, nil
}

// VerifySubject validates the token and returns subject user ID.
func (v *Verifier) VerifySubject(token string) (string, error) {
	id, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return id.Subject, nil
}

func (v *Verifier) verify(token string) (*accessClaims, error) {
	claims, err := v.parse(token)
	if err == nil || v.jwksURL == "" {
		return claims, err
	}
	if !errors.Is(err, errUnknownKey) && !v.keysExpired() {
		return claims, err
	}
	if refreshErr := v.refreshJWKS(); refreshErr != nil {
		return claims, refreshErr
	}
	return v.parse(token)
}

func (v *Verifier) parse(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	keys := v.copyKeys()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			if len(v.secret) == 0 {
				return nil, errUnknownKey
			}
			return v.secret, nil
		default:
			kid, _ := t.Header["kid"].(string)
			kid = strings.TrimSpace(kid)
			if kid == "" {
				return nil, errUnknownKey
			}
			key, ok := keys[kid]
			if !ok {
				return nil, errUnknownKey
			}
			return key, nil
		}
	}, opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}

func (v *Verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().UTC().After(v.keysExpire)
}

func (v *Verifier) copyKeys() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.rsaKeys))
	for kid, key := range v.rsaKeys {
		out[kid] = key
	}
	return out
}

func (v *Verifier) refreshJWKS() error {
	req, err := http.NewRequest(http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := make(map[string]any, len(payload.Keys))
	for _, k := range payload.Keys {
		if strings.ToUpper(strings.TrimSpace(k.Kty)) != "RSA" {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := parseCacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}

	v.mu.Lock()
	v.rsaKeys = keys
	v.keysExpire = time.Now().UTC().Add(ttl)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (any, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func parseCacheMaxAge(cacheControl string) time.Duration {
	cacheControl = strings.TrimSpace(cacheControl)
	if cacheControl == "" {
		return 0
	}
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimPrefix(part, "max-age=") + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
