package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/model"
)

const (
	testIssuer   = "https://id.designer.test"
	testAudience = "designer-api"
	testRole     = "designer:admin"
)

// keyring is an identity provider publishing one RSA and one EC signing key.
type keyring struct {
	rsa     *rsa.PrivateKey
	ec      *ecdsa.PrivateKey
	srv     *httptest.Server
	fetches atomic.Int32
}

func newKeyring(t *testing.T) *keyring {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}
	k := &keyring{rsa: rsaKey, ec: ecKey}
	enc := base64.RawURLEncoding.EncodeToString
	keys := []map[string]any{
		{
			"kid": "rsa-1", "kty": "RSA", "alg": "RS256", "use": "sig",
			"n": enc(rsaKey.N.Bytes()),
			"e": enc(big.NewInt(int64(rsaKey.E)).Bytes()),
		},
		{
			"kid": "ec-1", "kty": "EC", "crv": "P-256", "use": "sig",
			"x": enc(ecKey.X.Bytes()),
			"y": enc(ecKey.Y.Bytes()),
		},
		{"kid": "oct-1", "kty": "oct", "k": "c2VjcmV0"},
	}
	k.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(k.srv.Close)
	return k
}

func (k *keyring) sign(t *testing.T, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func identityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     testIssuer,
		Audience:   testAudience,
		Algorithms: []string{"RS256", "ES256"},
	}
}

func designerClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "designer-7",
		"tenant_id": "acme-labs",
		"email":     "designer-7@acme.test",
		"roles":     []string{testRole},
		"iss":       testIssuer,
		"aud":       testAudience,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":       jwt.NewNumericDate(time.Now()),
	}
}

// designerChain puts the authenticator in front of the same identity and
// role checks the router applies to designer routes.
func designerChain(cfg config.IdentityConfig, jwks *JWKSClient, claimPaths map[string]string) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		WriteJSON(w, http.StatusOK, map[string]string{"tenant": rctx.TenantID, "subject": rctx.SubjectID})
	})
	return JWTAuthenticator(cfg, jwks)(
		BuildRequestContextMiddleware(claimPaths)(
			RequireRole(testRole)(final)))
}

func TestJWTAuthenticator_designerRoutes(t *testing.T) {
	k := newKeyring(t)
	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}

	with := func(mod func(jwt.MapClaims)) jwt.MapClaims {
		c := designerClaims()
		mod(c)
		return c
	}
	rs := func(c jwt.MapClaims) string { return "Bearer " + k.sign(t, jwt.SigningMethodRS256, k.rsa, "rsa-1", c) }

	tests := []struct {
		name        string
		header      string
		algorithms  []string
		wantStatus  int
		wantMessage string
	}{
		{name: "rs256 designer", header: rs(designerClaims()), wantStatus: 200},
		{name: "es256 designer", header: "Bearer " + k.sign(t, jwt.SigningMethodES256, k.ec, "ec-1", designerClaims()), wantStatus: 200},
		{name: "expired within leeway", header: rs(with(func(c jwt.MapClaims) {
			c["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))
		})), wantStatus: 200},
		{name: "no header", wantStatus: 401, wantMessage: "Missing authorization header"},
		{name: "basic scheme", header: "Basic ZGVzaWduZXI6cHc=", wantStatus: 401, wantMessage: "Invalid authorization header format"},
		{name: "garbage token", header: "Bearer not-a-token", wantStatus: 401, wantMessage: "Malformed token"},
		{name: "expired", header: rs(with(func(c jwt.MapClaims) {
			c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		})), wantStatus: 401, wantMessage: "Token expired"},
		{name: "no exp", header: rs(with(func(c jwt.MapClaims) { delete(c, "exp") })), wantStatus: 401, wantMessage: "Token is missing a required claim"},
		{name: "foreign issuer", header: rs(with(func(c jwt.MapClaims) { c["iss"] = "https://id.other.test" })), wantStatus: 401, wantMessage: "Invalid token issuer"},
		{name: "foreign audience", header: rs(with(func(c jwt.MapClaims) { c["aud"] = "reporting-api" })), wantStatus: 401, wantMessage: "Invalid token audience"},
		{name: "algorithm not allowed", header: rs(designerClaims()), algorithms: []string{"ES256"}, wantStatus: 401, wantMessage: "Disallowed signing algorithm"},
		{name: "unpublished kid", header: "Bearer " + k.sign(t, jwt.SigningMethodRS256, k.rsa, "rsa-9", designerClaims()), wantStatus: 401, wantMessage: "Unknown signing key"},
		{name: "signed by another key", header: "Bearer " + k.sign(t, jwt.SigningMethodRS256, stranger, "rsa-1", designerClaims()), wantStatus: 401, wantMessage: "Invalid token signature"},
		{name: "no tenant", header: rs(with(func(c jwt.MapClaims) { delete(c, "tenant_id") })), wantStatus: 401},
		{name: "not a designer", header: rs(with(func(c jwt.MapClaims) { c["roles"] = []string{"viewer"} })), wantStatus: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := identityConfig()
			if tt.algorithms != nil {
				cfg.Algorithms = tt.algorithms
			}
			h := designerChain(cfg, NewJWKSClient(k.srv.URL, time.Hour), nil)

			req := httptest.NewRequest("GET", "/designer/kinds", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == 200 {
				var body map[string]string
				json.NewDecoder(w.Body).Decode(&body)
				if body["tenant"] != "acme-labs" || body["subject"] != "designer-7" {
					t.Errorf("identity = %v", body)
				}
				return
			}
			if tt.wantMessage != "" {
				var resp struct {
					Error model.ErrorEnvelope `json:"error"`
				}
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Error.Message != tt.wantMessage {
					t.Errorf("message = %q, want %q", resp.Error.Message, tt.wantMessage)
				}
			}
		})
	}
}

func TestJWTAuthenticator_nestedRoleClaim(t *testing.T) {
	k := newKeyring(t)
	claims := designerClaims()
	delete(claims, "roles")
	claims["realm_access"] = map[string]any{"roles": []string{"viewer", testRole}}
	claims["org"] = map[string]any{"id": "acme-labs"}
	delete(claims, "tenant_id")

	h := designerChain(identityConfig(), NewJWKSClient(k.srv.URL, time.Hour), map[string]string{
		"roles":     "realm_access.roles",
		"tenant_id": "org.id",
	})
	req := httptest.NewRequest("GET", "/designer/kinds", nil)
	req.Header.Set("Authorization", "Bearer "+k.sign(t, jwt.SigningMethodRS256, k.rsa, "rsa-1", claims))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestJWKSClient_cachesAndParsesKeys(t *testing.T) {
	k := newKeyring(t)
	client := NewJWKSClient(k.srv.URL, time.Hour)

	rsaKey, err := client.GetKey("rsa-1")
	if err != nil {
		t.Fatalf("GetKey(rsa-1): %v", err)
	}
	if pub, ok := rsaKey.(*rsa.PublicKey); !ok || pub.N.Cmp(k.rsa.N) != 0 {
		t.Errorf("rsa-1 = %T, want the published RSA key", rsaKey)
	}
	ecKey, err := client.GetKey("ec-1")
	if err != nil {
		t.Fatalf("GetKey(ec-1): %v", err)
	}
	if pub, ok := ecKey.(*ecdsa.PublicKey); !ok || pub.X.Cmp(k.ec.X) != 0 {
		t.Errorf("ec-1 = %T, want the published EC key", ecKey)
	}
	if _, err := client.GetKey("oct-1"); err == nil {
		t.Error("symmetric key should not be usable")
	}
	if n := k.fetches.Load(); n != 1 {
		t.Errorf("key set fetched %d times, want 1", n)
	}
}

func TestJWKSClient_HealthCheck(t *testing.T) {
	k := newKeyring(t)
	if err := NewJWKSClient(k.srv.URL, time.Hour).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	if err := NewJWKSClient(down.URL, time.Hour).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail when the key set is unavailable")
	}
}
