package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	providerIssuer   = "https://id.designer.test"
	providerAudience = "designer-api"
	providerKeyID    = "designer-signing-1"
)

// TestClaims describes the caller a token is minted for.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// identityProvider stands in for the tenant's OpenID provider. It publishes
// one RSA signing key and mints designer tokens with it.
type identityProvider struct {
	key  *rsa.PrivateKey
	jwks *httptest.Server
}

func newIdentityProvider(t *testing.T) *identityProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("identity provider key: %v", err)
	}
	published := map[string]any{"keys": []map[string]any{{
		"kid": providerKeyID, "kty": "RSA", "alg": "RS256", "use": "sig",
		"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(published)
	}))
	t.Cleanup(jwks.Close)
	return &identityProvider{key: key, jwks: jwks}
}

// Token mints a token valid for the next hour.
func (p *identityProvider) Token(c TestClaims) string {
	return p.mint(p.key, c, time.Now())
}

// ExpiredToken mints a token that expired an hour ago, well past any leeway.
func (p *identityProvider) ExpiredToken(c TestClaims) string {
	return p.mint(p.key, c, time.Now().Add(-2*time.Hour))
}

// ForgedToken mints a token under the published key id but signed by a key
// the provider never published.
func (p *identityProvider) ForgedToken(t *testing.T, c TestClaims) string {
	t.Helper()
	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("forger key: %v", err)
	}
	return p.mint(forger, c, time.Now())
}

func (p *identityProvider) mint(key *rsa.PrivateKey, c TestClaims, issued time.Time) string {
	claims := jwt.MapClaims{
		"iss":       providerIssuer,
		"aud":       providerAudience,
		"iat":       jwt.NewNumericDate(issued),
		"exp":       jwt.NewNumericDate(issued.Add(time.Hour)),
		"sub":       c.SubjectID,
		"tenant_id": c.TenantID,
		"email":     c.Email,
	}
	if len(c.Roles) > 0 {
		claims["roles"] = slices.Clone(c.Roles)
	}
	maps.Copy(claims, c.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = providerKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		panic("mint designer token: " + err.Error())
	}
	return signed
}
