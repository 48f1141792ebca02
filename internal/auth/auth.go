// Package auth issues and verifies the bearer tokens that guard operator
// routes and privileged realtime messages.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"andarbahar_service/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	RoleAdmin  = "admin"
	issuer     = "andarbahar_service"
	minSecret  = 32
	leeway     = 5 * time.Second
	SubjectKey = "auth.subject"
)

var ErrUnauthorized = errors.New("unauthorized")

type roleClaims struct {
	Role string `json:"role"`
}

type Authenticator struct {
	secret []byte
	signer jose.Signer
	now    func() time.Time
}

func New(secret []byte) (*Authenticator, error) {
	if len(secret) < minSecret {
		return nil, apperr.FatalConfig("admin token secret must be at least %d bytes", minSecret)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, apperr.FatalConfig("admin token signer: %v", err)
	}
	return &Authenticator{secret: secret, signer: signer, now: time.Now}, nil
}

// Issue mints an admin token for subject valid for ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.Signed(a.signer).Claims(claims).Claims(roleClaims{Role: RoleAdmin}).Serialize()
}

// Verify returns the subject of a valid admin token.
func (a *Authenticator) Verify(token string) (string, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", ErrUnauthorized
	}
	var claims jwt.Claims
	var role roleClaims
	if err := tok.Claims(a.secret, &claims, &role); err != nil {
		return "", ErrUnauthorized
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: a.now()}, leeway); err != nil {
		return "", ErrUnauthorized
	}
	if role.Role != RoleAdmin || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// RequireAdmin rejects requests without a valid bearer admin token.
func (a *Authenticator) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		subject, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(SubjectKey, subject)
		c.Next()
	}
}
