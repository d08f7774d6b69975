package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type rejectAll struct{}

func (rejectAll) UserIDFromAuthHeader(string) (string, error) {
	return "", errors.New("denied")
}

var testSecret = []byte("test-secret")

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	testCases := map[string]struct {
		header string
		want   string
		err    error
	}{
		"valid":        {header: "Bearer header.payload.signature", want: "header.payload.signature"},
		"padded":       {header: "  Bearer a.b.c  ", want: "a.b.c"},
		"missing":      {header: "", err: errMissingAuthorization},
		"wrong scheme": {header: "Basic a.b.c", err: errBadAuthorization},
		"not a jwt":    {header: "Bearer opaque", err: errBadAuthorization},
		"many periods": {header: "Bearer " + strings.Repeat(".", 1000), err: errBadAuthorization},
		"prefix only":  {header: "Bearer ", err: errBadAuthorization},
		"lower scheme": {header: "bearer a.b.c", err: errBadAuthorization},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := bearerToken(tc.header)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected error %v, got %v", tc.err, err)
			}
			if got != tc.want {
				t.Fatalf("unexpected token %q", got)
			}
		})
	}
}

func TestSharedSecretAuth(t *testing.T) {
	auth := NewSharedSecretAuth(testSecret, "api://board", "https://issuer/")

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signedToken(t, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	testCases := map[string]func(jwt.MapClaims){
		"expired":      func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"wrong aud":    func(c jwt.MapClaims) { c["aud"] = "api://other" },
		"wrong issuer": func(c jwt.MapClaims) { c["iss"] = "https://evil/" },
		"missing sub":  func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			claims := validClaims()
			mutate(claims)
			if _, err := auth.UserIDFromToken(signedToken(t, claims)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestSharedSecretAuthRejectsOtherSecret(t *testing.T) {
	auth := NewSharedSecretAuth([]byte("another-secret"), "", "")
	if _, err := auth.UserIDFromToken(signedToken(t, validClaims())); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestJWKSAuthWithoutKeysFails(t *testing.T) {
	auth := NewAuth(nil, "api://board", "https://issuer/")
	if _, err := auth.UserIDFromToken(signedToken(t, validClaims())); err == nil {
		t.Fatalf("expected HS256 token to be rejected by RS256 verifier")
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	e, _ := newTestServer(t, NewSharedSecretAuth(testSecret, "api://board", "https://issuer/"), nil)

	expectStatus(t, doRequest(e, http.MethodGet, "/api/board", "", nil), http.StatusUnauthorized)
	expectStatus(t, doRequest(e, http.MethodGet, "/api/board", "", map[string]string{"Authorization": "Bearer a.b.c"}), http.StatusUnauthorized)

	token := signedToken(t, validClaims())
	expectStatus(t, doRequest(e, http.MethodGet, "/api/board", "", map[string]string{"Authorization": "Bearer " + token}), http.StatusOK)
	expectStatus(t, doRequest(e, http.MethodGet, "/api/board?token="+token, "", nil), http.StatusOK)
	expectStatus(t, doRequest(e, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestIssueTokenRoundTrip(t *testing.T) {
	auth := NewSharedSecretAuth(testSecret, "board-api", "https://issuer.test/")
	tok, err := auth.IssueToken("dev-user", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := auth.UserIDFromAuthHeader("Bearer " + tok)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if sub != "dev-user" {
		t.Fatalf("expected dev-user, got %q", sub)
	}

	if _, err := NewAuth(nil, "board-api", "").IssueToken("dev-user", time.Hour); !errors.Is(err, errNoSecret) {
		t.Fatalf("expected errNoSecret for jwks auth, got %v", err)
	}
	if _, err := auth.IssueToken("", time.Hour); !errors.Is(err, errMissingSub) {
		t.Fatalf("expected errMissingSub, got %v", err)
	}
}
