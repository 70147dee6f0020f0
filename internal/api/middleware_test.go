package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// writeTestJWKS serves a one-key JWKS document for the given public key.
func writeTestJWKS(w http.ResponseWriter, kid string, pub *rsa.PublicKey) {
	doc := map[string]interface{}{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func TestJWKSCacheFetchesOnce(t *testing.T) {
	priv := generateTestKey(t)

	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		writeTestJWKS(w, "key-1", &priv.PublicKey)
	}))
	defer srv.Close()

	cache := newJWKSCache(srv.URL, time.Minute)
	for i := 0; i < 3; i++ {
		key, err := cache.publicKey("key-1")
		if err != nil {
			t.Fatalf("publicKey returned error: %v", err)
		}
		if key.N.Cmp(priv.PublicKey.N) != 0 {
			t.Fatal("returned key does not match the served key")
		}
	}

	if fetches != 1 {
		t.Fatalf("expected a single JWKS fetch for repeated lookups, got %d", fetches)
	}
}

func TestJWKSCacheRefreshesOnUnknownKid(t *testing.T) {
	oldKey := generateTestKey(t)
	newKey := generateTestKey(t)

	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		// The provider rolls its key between the two fetches.
		if fetches == 1 {
			writeTestJWKS(w, "key-old", &oldKey.PublicKey)
			return
		}
		writeTestJWKS(w, "key-new", &newKey.PublicKey)
	}))
	defer srv.Close()

	cache := newJWKSCache(srv.URL, time.Minute)
	if _, err := cache.publicKey("key-old"); err != nil {
		t.Fatalf("expected the old key to resolve, got %v", err)
	}

	key, err := cache.publicKey("key-new")
	if err != nil {
		t.Fatalf("expected an unknown kid to trigger a refresh, got %v", err)
	}
	if key.N.Cmp(newKey.PublicKey.N) != 0 {
		t.Fatal("expected the rolled key after refresh")
	}
	if fetches != 2 {
		t.Fatalf("expected exactly 2 JWKS fetches, got %d", fetches)
	}
}

func TestAuthMiddlewareAcceptsSignedToken(t *testing.T) {
	priv := generateTestKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJWKS(w, "key-1", &priv.PublicKey)
	}))
	defer srv.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user_jwks",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	var gotSubject string
	handler := AuthMiddleware(srv.URL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = GetAuthSubject(r.Context())
	}))

	req := httptest.NewRequest("GET", "/settlements", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the signed token to pass, got status %d: %s", rec.Code, rec.Body.String())
	}
	if gotSubject != "user_jwks" {
		t.Fatalf("expected subject user_jwks in context, got %q", gotSubject)
	}
}

func TestAuthMiddlewareRejectsWrongKey(t *testing.T) {
	servedKey := generateTestKey(t)
	otherKey := generateTestKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJWKS(w, "key-1", &servedKey.PublicKey)
	}))
	defer srv.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user_jwks",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(otherKey)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	handler := AuthMiddleware(srv.URL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a token signed with the wrong key")
	}))

	req := httptest.NewRequest("GET", "/settlements", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a mis-signed token, got %d", rec.Code)
	}
}
