package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifyBearerRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Mint(secret, "user-42", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := NewVerifier("test-secret", false, "")
	r := httptest.NewRequest("POST", "/lifecycle/promotions/execute", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	sub, err := v.Verify(r)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-42" {
		t.Errorf("subject = %q, want user-42", sub)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	v := NewVerifier("test-secret", false, "")

	expired, err := Mint(secret, "user-42", -time.Minute)
	if err != nil {
		t.Fatalf("mint expired: %v", err)
	}
	wrongKey, err := Mint([]byte("other-secret"), "user-42", time.Minute)
	if err != nil {
		t.Fatalf("mint wrong key: %v", err)
	}

	cases := map[string]string{
		"expired":      "Bearer " + expired,
		"wrong secret": "Bearer " + wrongKey,
		"garbage":      "Bearer not.a.token",
		"missing":      "",
	}
	for name, header := range cases {
		r := httptest.NewRequest("GET", "/lifecycle/promotions", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if _, err := v.Verify(r); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
}

func TestVerifyDebugTokenEscape(t *testing.T) {
	v := NewVerifier("", true, "letmein")

	r := httptest.NewRequest("GET", "/lifecycle/promotions", nil)
	r.Header.Set("X-Debug-Token", "letmein")
	sub, err := v.Verify(r)
	if err != nil {
		t.Fatalf("verify debug: %v", err)
	}
	if sub != "debug" {
		t.Errorf("subject = %q, want debug", sub)
	}

	r = httptest.NewRequest("GET", "/lifecycle/promotions", nil)
	r.Header.Set("X-Debug-Token", "wrong")
	if _, err := v.Verify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("bad debug token err = %v, want ErrUnauthorized", err)
	}

	// The escape is off unless explicitly enabled.
	v = NewVerifier("", false, "letmein")
	r = httptest.NewRequest("GET", "/lifecycle/promotions", nil)
	r.Header.Set("X-Debug-Token", "letmein")
	if _, err := v.Verify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("disabled escape err = %v, want ErrUnauthorized", err)
	}
}
