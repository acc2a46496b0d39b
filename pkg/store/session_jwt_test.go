package store

import (
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore(testSecret, time.Minute, NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession(42)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok {
		t.Fatalf("validate token: ok=%v err=%v", ok, err)
	}
	if id != 42 {
		t.Fatalf("user id = %d, want 42", id)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Minute, nil); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing, err := NewJWTSessionStoreWithOptions(testSecret, time.Minute, nil, JWTOptions{Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new signing store: %v", err)
	}
	verify, err := NewJWTSessionStoreWithOptions(testSecret, time.Minute, nil, JWTOptions{Audience: "aud-b"})
	if err != nil {
		t.Fatalf("new verify store: %v", err)
	}
	token, err := signing.NewSession(1)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsOtherSecretAndAlg(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Minute, nil)
	other, _ := NewJWTSessionStore(strings.Repeat("x", 40), time.Minute, nil)
	token, err := other.NewSession(3)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected foreign signature to fail, ok=%v err=%v", ok, err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:  "3",
		Issuer:   defaultJWTIssuer,
		Audience: jwt.ClaimStrings{defaultJWTAudience},
		ID:       "x",
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(raw); err == nil || ok {
		t.Fatalf("expected alg none to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Minute, NewMemoryTokenRevoker())
	token, err := s.NewSession(5)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Minute, NewMemoryTokenRevoker())
	token, err := s.NewSession(6)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions(6, time.Now().UTC().Add(time.Second)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); err == nil || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}
