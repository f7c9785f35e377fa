package auth

import (
	"context"
	"testing"
	"time"

	"github.com/campusiq/opsgovernor/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(Config{Secret: testSecret, Issuer: "campus-login"})
	require.NoError(t, err)
	return v
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	dept := int64(4)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "fac-12",
			Issuer:    "campus-login",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:         "faculty",
		DepartmentID: &dept,
	}
}

func TestNewValidator_RequiresSecret(t *testing.T) {
	_, err := NewValidator(Config{})
	assert.Error(t, err)
}

func TestValidator_ValidateToken(t *testing.T) {
	v := newTestValidator(t)
	token := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	id, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "fac-12", id.UserID)
	assert.Equal(t, models.RoleFaculty, id.Role)
	require.NotNil(t, id.DepartmentID)
	assert.Equal(t, int64(4), *id.DepartmentID)
}

func TestValidator_IssueRoundTrip(t *testing.T) {
	v := newTestValidator(t)

	token, err := v.Issue(models.Identity{UserID: "admin-1", Role: models.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	id, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id.UserID)
	assert.True(t, id.IsAdmin())
	assert.Nil(t, id.DepartmentID)

	_, err = v.Issue(models.Identity{UserID: "x", Role: "dean"}, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestValidator_Rejects(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name: "expired",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "no expiry",
			token: func() string {
				c := validClaims()
				c.ExpiresAt = nil
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				return sign(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "other algorithm",
			token: func() string {
				return sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "unsigned",
			token: func() string {
				return sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := validClaims()
				c.Issuer = "somebody-else"
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidIssuer,
		},
		{
			name: "unknown role",
			token: func() string {
				c := validClaims()
				c.Role = "superuser"
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidClaims,
		},
		{
			name: "missing subject",
			token: func() string {
				c := validClaims()
				c.Subject = ""
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidClaims,
		},
		{
			name: "non-positive department",
			token: func() string {
				c := validClaims()
				zero := int64(0)
				c.DepartmentID = &zero
				return sign(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidClaims,
		},
		{
			name:    "garbage",
			token:   func() string { return "not.a.token" },
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.ValidateToken(context.Background(), tt.token())
			assert.Nil(t, id)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidator_CancelledContext(t *testing.T) {
	v := newTestValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribeIdentity(t *testing.T) {
	dept := int64(2)
	assert.Equal(t, "u-1/admin", DescribeIdentity(models.Identity{UserID: "u-1", Role: models.RoleAdmin}))
	assert.Equal(t, "u-2/faculty/2", DescribeIdentity(models.Identity{UserID: "u-2", Role: models.RoleFaculty, DepartmentID: &dept}))
}
