package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
)

type tokenFixture struct {
	verifier *TokenVerifier
	key      *rsa.PrivateKey
	kid      string
}

func setupTokenVerifier(t *testing.T, audience string, trusted []string) *tokenFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "token-signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	pemCert := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	const kid = "test-key-1"
	certsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{kid: pemCert})
	}))
	t.Cleanup(certsServer.Close)

	verifier := NewTokenVerifier(audience, trusted, testLogger(t)).WithCertsURL(certsServer.URL)
	return &tokenFixture{verifier: verifier, key: key, kid: kid}
}

func (f *tokenFixture) mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func baseClaims(audience string) jwt.MapClaims {
	return jwt.MapClaims{
		"aud":   audience,
		"iss":   "https://accounts.example.com",
		"sub":   "caller-123",
		"email": "caller@example.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestVerifyAcceptsTrustedToken(t *testing.T) {
	const audience = "https://navigator.example.com"
	f := setupTokenVerifier(t, audience, []string{"caller@example.iam.gserviceaccount.com"})

	claims, err := f.verifier.Verify(context.Background(), f.mint(t, baseClaims(audience)))
	require.NoError(t, err)
	assert.Equal(t, "caller-123", claims.Subject)
	assert.Equal(t, "caller@example.iam.gserviceaccount.com", claims.Email)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	f := setupTokenVerifier(t, "https://navigator.example.com", []string{"caller@example.iam.gserviceaccount.com"})

	_, err := f.verifier.Verify(context.Background(), f.mint(t, baseClaims("https://other.example.com")))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorised))
}

func TestVerifyRejectsUntrustedCaller(t *testing.T) {
	const audience = "https://navigator.example.com"
	f := setupTokenVerifier(t, audience, []string{"someone-else@example.com"})

	_, err := f.verifier.Verify(context.Background(), f.mint(t, baseClaims(audience)))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorised))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	const audience = "https://navigator.example.com"
	f := setupTokenVerifier(t, audience, []string{"caller@example.iam.gserviceaccount.com"})

	claims := baseClaims(audience)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := f.verifier.Verify(context.Background(), f.mint(t, claims))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorised))
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	const audience = "https://navigator.example.com"
	f := setupTokenVerifier(t, audience, []string{"caller@example.iam.gserviceaccount.com"})

	token := f.mint(t, baseClaims(audience))
	tampered := token[:len(token)-4] + "AAAA"

	_, err := f.verifier.Verify(context.Background(), tampered)
	assert.Error(t, err)
}

func TestKeysCachedAcrossVerifications(t *testing.T) {
	const audience = "https://navigator.example.com"

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "token-signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	pemCert := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	fetches := 0
	certsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": pemCert})
	}))
	t.Cleanup(certsServer.Close)

	verifier := NewTokenVerifier(audience, []string{"caller@example.iam.gserviceaccount.com"}, testLogger(t)).
		WithCertsURL(certsServer.URL)

	mint := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims(audience))
		token.Header["kid"] = "kid-1"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	for i := 0; i < 3; i++ {
		_, err := verifier.Verify(context.Background(), mint())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetches, "issuer keys must be served from cache")
}
