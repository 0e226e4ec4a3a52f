package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// expiryLeeway tolerates small clock drift between the issuer and this host.
const expiryLeeway = 30 * time.Second

var jwtNow = time.Now

// TokenClaims carries the numeric user id in Sub.
type TokenClaims struct {
	Sub      string `json:"sub"`
	Exp      int64  `json:"exp,omitempty"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

// UserID parses Sub as a positive integer.
func (c TokenClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Sub), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

var hs256Header = mustSegment(jwtHeader{Alg: "HS256", Typ: "JWT"})

func mustSegment(v any) string {
	seg, err := encodeSegment(v)
	if err != nil {
		panic(err)
	}
	return seg
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func signature(secret, signingInput string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

// SignJWT issues an HS256 token for claims.
func SignJWT(secret string, claims TokenClaims) (string, error) {
	payload, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	input := hs256Header + "." + payload
	return input + "." + base64.RawURLEncoding.EncodeToString(signature(secret, input)), nil
}

// VerifyJWT accepts only HS256 tokens signed with secret. Every failure other
// than expiry maps to ErrInvalidToken.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	headerSeg, rest, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	payloadSeg, sigSeg, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(sigSeg, ".") {
		return nil, ErrInvalidToken
	}

	var hdr jwtHeader
	if err := decodeSegment(headerSeg, &hdr); err != nil || hdr.Alg != "HS256" {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigSeg)
	if err != nil || !hmac.Equal(sig, signature(secret, headerSeg+"."+payloadSeg)) {
		return nil, ErrInvalidToken
	}

	var claims TokenClaims
	if err := decodeSegment(payloadSeg, &claims); err != nil {
		return nil, err
	}
	if claims.Exp != 0 && jwtNow().Add(-expiryLeeway).Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func bearerToken(r *http.Request) (string, string) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", "missing authorization"
	}
	scheme, token, ok := strings.Cut(auth, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "invalid authorization"
	}
	return token, ""
}

// AuthJWT rejects requests without a valid bearer token and stores the
// subject's user id on the request context.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r)
			if problem != "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", problem)
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					msg = "token expired"
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", msg)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid subject")
				return
			}
			noteUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

type userIDKey struct{}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(userIDKey{}).(int64)
	return v, ok && v > 0
}

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	if userID <= 0 {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": msg})
}
