package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "pwnarena"

var errMissingTeam = errors.New("token carries no team_id claim")

// Claims defines JWT payload. The identity provider issues one per team
// session.
type Claims struct {
	TeamID string `json:"team_id"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed JWT for a team with provided secret and ttl.
func GenerateToken(teamID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TeamID: teamID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   teamID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if claims.TeamID == "" {
		return nil, errMissingTeam
	}
	return claims, nil
}
