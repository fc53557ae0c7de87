package identity

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// DefaultCertsURL is the issuer endpoint serving the signing certificates
// for platform-issued ID tokens.
const DefaultCertsURL = "https://www.googleapis.com/oauth2/v1/certs"

const defaultKeyCacheTTL = time.Hour

// TokenVerifier checks bearer ID tokens presented by external callers:
// signature against the issuer's published keys, audience against the
// configured service URL, and subject/email against the trusted-caller
// list. Issuer keys are cached with a TTL.
type TokenVerifier struct {
	certsURL   string
	audience   string
	trusted    map[string]bool
	httpClient *http.Client
	logger     *logger.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	cacheTTL  time.Duration
}

// TokenClaims is the verified subset of an accepted ID token.
type TokenClaims struct {
	Subject string
	Email   string
	Issuer  string
}

// NewTokenVerifier creates a verifier for the given audience and trusted
// caller emails.
func NewTokenVerifier(audience string, trustedCallers []string, log *logger.Logger) *TokenVerifier {
	trusted := make(map[string]bool, len(trustedCallers))
	for _, c := range trustedCallers {
		trusted[c] = true
	}
	return &TokenVerifier{
		certsURL:   DefaultCertsURL,
		audience:   audience,
		trusted:    trusted,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.Component("idtoken"),
		cacheTTL:   defaultKeyCacheTTL,
	}
}

// WithCertsURL overrides the issuer certificate endpoint (used in tests).
func (v *TokenVerifier) WithCertsURL(url string) *TokenVerifier {
	v.certsURL = url
	return v
}

// Verify parses and checks a bearer ID token, returning its claims on
// success.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return v.keyForKid(ctx, kid)
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.KindUnauthorised, "id token rejected: %v", err)
	}
	if !token.Valid {
		return nil, apperrors.Unauthorised("id token is invalid")
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	issuer, _ := claims["iss"].(string)

	if !v.trusted[subject] && !v.trusted[email] {
		return nil, apperrors.Newf(apperrors.KindUnauthorised,
			"token subject is not a trusted caller")
	}

	return &TokenClaims{Subject: subject, Email: email, Issuer: issuer}, nil
}

// keyForKid resolves a signing key, refreshing the cache when the kid is
// unknown or the cache has aged out.
func (v *TokenVerifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	stale := time.Since(v.fetchedAt) > v.cacheTTL
	if key, ok := v.keys[kid]; ok && !stale {
		return key, nil
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		// Serve a cached key on refresh failure rather than rejecting outright.
		if key, ok := v.keys[kid]; ok {
			v.logger.Warn("serving cached issuer key after refresh failure", zap.Error(err))
			return key, nil
		}
		return nil, err
	}

	v.keys = keys
	v.fetchedAt = time.Now()

	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no issuer key with id %q", kid)
	}
	return key, nil
}

func (v *TokenVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching issuer certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issuer certs endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var pemCerts map[string]string
	if err := json.Unmarshal(body, &pemCerts); err != nil {
		return nil, fmt.Errorf("decoding issuer certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pemCerts))
	for kid, pemCert := range pemCerts {
		block, _ := pem.Decode([]byte(pemCert))
		if block == nil {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			v.logger.Warn("skipping unparsable issuer cert", zap.String("kid", kid), zap.Error(err))
			continue
		}
		if rsaKey, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			keys[kid] = rsaKey
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("issuer published no usable keys")
	}
	return keys, nil
}
