// Package auth verifies bearer tokens and turns their claims into the
// identity triple the governor trusts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/campusiq/opsgovernor/models"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature is wrong
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is not the configured one
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidClaims is returned when the identity claims are unusable
	ErrInvalidClaims = errors.New("invalid identity claims")
)

// Claims are the claims carried by an ops token
type Claims struct {
	jwt.RegisteredClaims
	Role         string `json:"role"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

// Config holds configuration for the Validator
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// Validator checks HS256 tokens signed with a shared secret
type Validator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewValidator creates a validator. The secret must not be empty.
func NewValidator(config Config) (*Validator, error) {
	if config.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &Validator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

// ValidateToken verifies tokenString and returns the caller's identity
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: expected %s", ErrInvalidIssuer, v.issuer)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims.Identity()
}

// Identity converts the claims into a verified identity
func (c *Claims) Identity() (*models.Identity, error) {
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}
	role := models.Role(c.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, c.Role)
	}
	if c.DepartmentID != nil && *c.DepartmentID <= 0 {
		return nil, fmt.Errorf("%w: department_id must be positive", ErrInvalidClaims)
	}
	return &models.Identity{
		UserID:       c.Subject,
		Role:         role,
		DepartmentID: c.DepartmentID,
	}, nil
}

// Issue signs a token for id valid for ttl. It is used by the CLI and by
// tests; production tokens come from the campus login service.
func (v *Validator) Issue(id models.Identity, ttl time.Duration) (string, error) {
	if !id.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, id.Role)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:         string(id.Role),
		DepartmentID: id.DepartmentID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// DescribeIdentity renders id for logs
func DescribeIdentity(id models.Identity) string {
	if id.DepartmentID == nil {
		return id.UserID + "/" + string(id.Role)
	}
	return id.UserID + "/" + string(id.Role) + "/" + strconv.FormatInt(*id.DepartmentID, 10)
}
