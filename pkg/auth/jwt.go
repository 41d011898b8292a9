// Package auth issues and verifies the HS256 bearer tokens that guard the HTTP API.
package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/models"
)

const JwtAlg = "HS256"

// Subject is the "sub" claim of generated tokens.
const Subject = "labml"

var errNoSecret = models.NewInvalidInputError(
	"auth secret not set. Ensure LABML_AUTH_SECRET is set in your environment",
)

// GenerateJWT generates a JWT token using the given config. A positive ttl sets an
// expiry; zero issues a token that does not expire.
// Requires that LABML_AUTH_SECRET is set in the environment.
func GenerateJWT(cfg *config.Config, ttl time.Duration) (string, error) {
	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		return "", errNoSecret
	}

	claims := map[string]any{"sub": Subject}
	jwtauth.SetIssuedNow(claims)
	if ttl > 0 {
		jwtauth.SetExpiryIn(claims, ttl)
	}

	tokenAuth := jwtauth.New(JwtAlg, secret, nil)
	_, tokenString, err := tokenAuth.Encode(claims)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// JWTVerifier returns the middleware that extracts and verifies the bearer token. It
// must be paired with jwtauth.Authenticator to reject requests.
func JWTVerifier(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		return nil, errNoSecret
	}
	tokenAuth := jwtauth.New(JwtAlg, secret, nil)
	return jwtauth.Verifier(tokenAuth), nil
}
