package services

import (
	harbor_errors "harbor-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims the external identity issuer puts in its
// access tokens. Subject carries the stable user identity.
type AccessClaims struct {
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates bearer tokens issued by the external identity
// service. Token issuance itself is out of scope here; this side only
// checks the HMAC signature and expiry.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, harbor_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, harbor_errors.ErrUnauthorized
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, harbor_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, harbor_errors.ErrUnauthorized
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Email
	}

	return &Identity{
		Ref:         claims.Subject,
		DisplayName: name,
		Email:       claims.Email,
		AvatarURL:   claims.AvatarURL,
	}, nil
}
