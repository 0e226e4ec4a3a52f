package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{Sub: "42", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}
	claims, err := VerifyJWT("secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT error: %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 42 {
		t.Fatalf("UserID = %d, %v", id, err)
	}
	if _, err := VerifyJWT("other", token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	token, _ := SignJWT("secret", TokenClaims{Sub: "1", Exp: time.Now().Add(-time.Minute).Unix()})
	if _, err := VerifyJWT("secret", token); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthJWT(t *testing.T) {
	valid, _ := SignJWT("secret", TokenClaims{Sub: "7"})
	nonNumeric, _ := SignJWT("secret", TokenClaims{Sub: "alice"})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   int64
	}{
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusOK, wantUser: 7},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc.def.ghi", wantStatus: http.StatusUnauthorized},
		{name: "non numeric subject", header: "Bearer " + nonNumeric, wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser int64
			h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if gotUser != tc.wantUser {
				t.Fatalf("user = %d, want %d", gotUser, tc.wantUser)
			}
		})
	}
}

func TestVerifyJWTRejectsTampering(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{Sub: "9"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	none := "eyJhbGciOiJub25lIn0" + token[strings.Index(token, "."):]
	cases := map[string]string{
		"alg none":       none,
		"two segments":   token[:strings.LastIndex(token, ".")],
		"four segments":  token + ".x",
		"bad signature":  token[:strings.LastIndex(token, ".")+1] + "AAAA",
		"garbage header": "!!!" + token[strings.Index(token, "."):],
	}
	for name, tok := range cases {
		if _, err := VerifyJWT("secret", tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyJWTExpiryLeeway(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jwtNow = func() time.Time { return now }
	t.Cleanup(func() { jwtNow = time.Now })

	token, _ := SignJWT("secret", TokenClaims{Sub: "3", Exp: now.Add(-10 * time.Second).Unix()})
	if _, err := VerifyJWT("secret", token); err != nil {
		t.Fatalf("token inside leeway rejected: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := VerifyJWT("secret", token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
