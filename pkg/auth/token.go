package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pagechat/pagechat/pkg/id"
)

const (
	issuer   = "pagechat"
	audience = "pagechat"
)

var (
	errTokenExpired      = errors.New("token expired")
	errTokenInvalid      = errors.New("token invalid")
	errUnrecognizedToken = errors.New("unrecognized token")
)

type TokenOptions struct {
	Exp    time.Duration
	Secret []byte
}

type UserClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

func newUserClaims(userID id.ID, issuedAt, exp time.Time) *UserClaims {
	return &UserClaims{
		UID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func createToken(userID id.ID, options TokenOptions, now time.Time) (signed string, exp time.Time, err error) {
	exp = now.Add(options.Exp)
	claims := newUserClaims(userID, now, exp)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err = token.SignedString(options.Secret)
	return signed, exp, err
}

func verifyToken(token string, options TokenOptions) (*UserClaims, error) {
	claims := &UserClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return options.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
	)

	switch {
	case err == nil && parsed.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, errTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errTokenExpired
	default:
		return nil, errUnrecognizedToken
	}
}
