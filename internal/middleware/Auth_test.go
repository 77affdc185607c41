package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "evergreen-test-secret-0123456789abcdef"

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir := directory.New()
	require.NoError(t, dir.Seed(directory.File{Users: []models.User{
		{ID: "u1", Username: "superadmin", Role: models.RoleAdmin},
		{ID: "u2", Username: "grower_john", Role: models.RoleUser, AllowedBasinIDs: []string{"basin-03"}},
	}}))
	return dir
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(u.Username))
}

func signHS256(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signing := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(signing))
	return signing + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestHeaderIdentity(t *testing.T) {
	id, err := NewIdentity(testDirectory(t), JWTConfig{}, zerolog.Nop())
	require.NoError(t, err)
	h := id.Middleware(http.HandlerFunc(echoUser))

	for _, tc := range []struct {
		name     string
		username string
		status   int
	}{
		{"known", "grower_john", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "mallory", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.username != "" {
				req.Header.Set(UsernameHeader, tc.username)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.username, rec.Body.String())
			}
		})
	}
}

func TestJWTIdentity(t *testing.T) {
	id, err := NewIdentity(testDirectory(t), JWTConfig{Secret: testSecret, Issuer: "evergreen", Audience: "dashboard"}, zerolog.Nop())
	require.NoError(t, err)
	h := id.Middleware(http.HandlerFunc(echoUser))

	now := time.Now()
	claims := func(sub, aud string, exp time.Time) map[string]any {
		return map[string]any{"iss": "evergreen", "aud": aud, "sub": sub, "iat": now.Unix(), "exp": exp.Unix()}
	}

	for _, tc := range []struct {
		name   string
		auth   string
		status int
	}{
		{"valid", "Bearer " + signHS256(t, claims("superadmin", "dashboard", now.Add(time.Hour))), http.StatusOK},
		{"expired", "Bearer " + signHS256(t, claims("superadmin", "dashboard", now.Add(-time.Hour))), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signHS256(t, claims("superadmin", "other", now.Add(time.Hour))), http.StatusUnauthorized},
		{"unknown subject", "Bearer " + signHS256(t, claims("mallory", "dashboard", now.Add(time.Hour))), http.StatusUnauthorized},
		{"no token", "", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			// the username header is ignored once tokens are enabled
			req.Header.Set(UsernameHeader, "grower_john")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "superadmin", rec.Body.String())
			}
		})
	}
}
