package security_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/security"
)

func signToken(t *testing.T, secret, userUUID string, method jwt.SigningMethod) string {
	t.Helper()
	claims := &security.Claims{
		UserUUID: userUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTService_ValidateJWT(t *testing.T) {
	service := security.NewJWTService("secret")

	token := signToken(t, "secret", "user-123", jwt.SigningMethodHS512)
	claims, err := service.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserUUID)

	// чужой секрет
	_, err = service.ValidateJWT(signToken(t, "другой", "user-123", jwt.SigningMethodHS512))
	assert.Error(t, err)

	// неверный алгоритм подписи
	_, err = service.ValidateJWT(signToken(t, "secret", "user-123", jwt.SigningMethodHS256))
	assert.Error(t, err)
}

func TestJWTMiddleware(t *testing.T) {
	service := security.NewJWTService("secret")
	mw := security.JWTMiddleware(service, "admin-token")

	var gotClaims *security.Claims
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = security.GetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name         string
		header       string
		expectStatus int
		check        func(t *testing.T)
	}{
		{
			name:         "без заголовка — анонимный проход",
			header:       "",
			expectStatus: http.StatusOK,
			check: func(t *testing.T) {
				assert.Nil(t, gotClaims)
			},
		},
		{
			name:         "не Bearer",
			header:       "Basic dXNlcjpwYXNz",
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "невалидный токен",
			header:       "Bearer мусор",
			expectStatus: http.StatusUnauthorized,
		},
		{
			name:         "валидный токен",
			header:       "Bearer " + signToken(t, "secret", "user-123", jwt.SigningMethodHS512),
			expectStatus: http.StatusOK,
			check: func(t *testing.T) {
				require.NotNil(t, gotClaims)
				assert.Equal(t, "user-123", gotClaims.UserUUID)
				assert.False(t, gotClaims.IsAdmin)
			},
		},
		{
			name:         "административный токен",
			header:       "Bearer admin-token",
			expectStatus: http.StatusOK,
			check: func(t *testing.T) {
				require.NotNil(t, gotClaims)
				assert.True(t, gotClaims.IsAdmin)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClaims = nil
			req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectStatus, rec.Code)
			if tt.check != nil {
				tt.check(t)
			}
		})
	}
}

func TestInternalTokenMiddleware(t *testing.T) {
	mw := security.InternalTokenMiddleware("internal-token")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal/dlq", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/dlq", nil)
	req.Header.Set("X-Internal-Token", "internal-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// пустой настроенный токен закрывает маршрут полностью
	closed := security.InternalTokenMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/dlq", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
