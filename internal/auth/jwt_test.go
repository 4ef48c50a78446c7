package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestVerifier_UserID(t *testing.T) {
	v := NewVerifier(testSecret)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:  "id claim",
			token: sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}),
			want:  "u1",
		},
		{
			name:  "subject fallback",
			token: sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u2", ExpiresAt: exp}}),
			want:  "u2",
		},
		{
			name:    "wrong secret",
			token:   sign(t, jwt.SigningMethodHS256, []byte("other"), Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}),
			wantErr: true,
		},
		{
			name: "expired",
			token: sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}}),
			wantErr: true,
		},
		{
			name:    "no expiry",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{UserID: "u1"}),
			wantErr: true,
		},
		{
			name:    "no user",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}),
			wantErr: true,
		},
		{
			name:    "wrong algorithm",
			token:   sign(t, jwt.SigningMethodHS512, []byte(testSecret), Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}),
			wantErr: true,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.UserID(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
