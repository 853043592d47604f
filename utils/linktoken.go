package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenMismatch    = errors.New("token does not grant this object")
)

// MinSecretLength is the shortest HMAC secret accepted for link signing.
const MinSecretLength = 32

// LinkClaims grant a GET of one object until Expiry.
type LinkClaims struct {
	jwt.Claims
	Bucket string `json:"bkt"`
	Key    string `json:"key"`
}

// LinkSigner issues and verifies HS256 link tokens.
type LinkSigner struct {
	secret []byte
	signer jose.Signer
}

func NewLinkSigner(secret []byte) (*LinkSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("link signing secret must be at least %d bytes", MinSecretLength)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &LinkSigner{secret: secret, signer: signer}, nil
}

// Sign returns a token valid for bucket/key until expires.
func (s *LinkSigner) Sign(bucket, key string, expires time.Time) (string, error) {
	claims := LinkClaims{
		Claims: jwt.Claims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Expiry:   jwt.NewNumericDate(expires),
		},
		Bucket: bucket,
		Key:    key,
	}
	token, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and that the token names bucket/key.
func (s *LinkSigner) Verify(token, bucket, key string) error {
	if token == "" {
		return ErrInvalidToken
	}
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims LinkClaims
	if err := tok.Claims(s.secret, &claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Bucket != bucket || claims.Key != key {
		return ErrTokenMismatch
	}
	return nil
}
