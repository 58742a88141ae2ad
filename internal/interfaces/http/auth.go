package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
)

const principalKey = "principal"

// Principal is the caller identity extracted from a verified token
type Principal struct {
	Role     domainwf.Role
	Identity string
}

// Claims is the token payload. The subject carries the identity.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator issues and verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for the given shared secret and issuer
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token for role and identity valid for ttl
func (a *Authenticator) Issue(role domainwf.Role, identity string, ttl time.Duration) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if strings.TrimSpace(identity) == "" {
		return "", errors.New("identity is required")
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role.String(),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the principal it names
func (a *Authenticator) Verify(tokenString string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Principal{}, err
	}

	role, err := domainwf.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, errors.New("token has no subject")
	}

	return Principal{Role: role, Identity: claims.Subject}, nil
}

// RequireAuth validates the bearer token and stores the principal on the context.
// Browsers cannot set headers on EventSource or WebSocket requests, so an
// access_token query parameter is accepted as well.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		principal, err := a.Verify(tokenString)
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "access token expired")
			case errors.Is(err, jwt.ErrTokenInvalidIssuer):
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid token issuer")
			default:
				abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid access token")
			}
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireRole rejects principals whose role is not listed
func RequireRole(roles ...domainwf.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalFrom(c)
		for _, r := range roles {
			if principal.Role == r {
				c.Next()
				return
			}
		}
		abortWithError(c, http.StatusForbidden, "role_not_permitted", "role not permitted")
	}
}

func extractToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errors.New("malformed authorization header")
		}
		return strings.TrimSpace(token), nil
	}
	if token := c.Query("access_token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing bearer token")
}

func principalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}
