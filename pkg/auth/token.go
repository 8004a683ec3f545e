package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidSubject = errors.New("token subject is not a user id")
)

// Claims are the fields the marketplace reads from a session token.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// Session identifies the signed-in user.
type Session struct {
	Token     string
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// Verifier turns a bearer token into a Session.
// Without a public key the signature is not checked; the backend does that on
// every call and the client only needs the user id.
type Verifier struct {
	publicKey *rsa.PublicKey
}

// NewVerifier creates a verifier. An empty publicKeyPEM disables signature checks.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	if len(publicKeyPEM) == 0 {
		return &Verifier{}, nil
	}

	blockPub, _ := pem.Decode(publicKeyPEM)
	if blockPub == nil {
		return nil, errors.New("failed to parse public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}

	return &Verifier{publicKey: rsaPub}, nil
}

// Session parses the token and extracts the user
func (v *Verifier) Session(tokenString string) (*Session, error) {
	claims := &Claims{}

	var err error
	if v.publicKey == nil {
		_, _, err = jwt.NewParser().ParseUnverified(tokenString, claims)
		if err == nil {
			err = checkExpiry(claims)
		}
	} else {
		_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.publicKey, nil
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, claims.Subject)
	}

	s := &Session{Token: tokenString, UserID: userID, Username: claims.Username}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func checkExpiry(c *Claims) error {
	if c.ExpiresAt != nil && time.Now().After(c.ExpiresAt.Time) {
		return jwt.ErrTokenExpired
	}
	return nil
}
