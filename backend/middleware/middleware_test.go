// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		UserID: "05abc",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "efchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthMiddleware(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"
	subjectOnly := validClaims()
	subjectOnly.UserID = ""
	subjectOnly.Subject = "05sub"

	tests := []struct {
		name   string
		header string
		status int
		userID string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS256, testSecret), http.StatusOK, "05abc"},
		{"subject fallback", "Bearer " + signToken(t, subjectOnly, jwt.SigningMethodHS256, testSecret), http.StatusOK, "05sub"},
		{"bad signature", "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS256, "other"), http.StatusUnauthorized, ""},
		{"wrong algorithm", "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS512, testSecret), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, expired, jwt.SigningMethodHS256, testSecret), http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + signToken(t, wrongIssuer, jwt.SigningMethodHS256, testSecret), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := NewAuthMiddleware(testSecret, "efchat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = GetUserID(r)
				claims, ok := GetClaims(r)
				require.True(t, ok)
				assert.Equal(t, seen, claims.UserID)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.userID, seen)
		})
	}
}

func TestRequireUser(t *testing.T) {
	adminClaims := validClaims()
	adminClaims.UserID = "05other"
	adminClaims.Roles = []string{AdminRole}
	plainClaims := validClaims()
	plainClaims.UserID = "05other"
	plainClaims.Roles = []string{"viewer"}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"local party", "Bearer " + signToken(t, validClaims(), jwt.SigningMethodHS256, testSecret), http.StatusOK},
		{"other user with admin role", "Bearer " + signToken(t, adminClaims, jwt.SigningMethodHS256, testSecret), http.StatusOK},
		{"other user", "Bearer " + signToken(t, plainClaims, jwt.SigningMethodHS256, testSecret), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true })
			h := NewAuthMiddleware(testSecret, "efchat")(RequireUser("05abc", AdminRole)(inner))
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusOK, reached)
		})
	}

	t.Run("host supplied user id", func(t *testing.T) {
		h := RequireUser("05abc", AdminRole)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		for id, want := range map[string]int{"05abc": http.StatusOK, "05other": http.StatusForbidden} {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(WithUserID(req.Context(), id))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, want, rec.Code, id)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(0.001, 2)
	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	l.Reset()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.efchat.net"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.efchat.net")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.efchat.net", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
