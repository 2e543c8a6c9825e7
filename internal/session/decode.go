package session

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// ErrMalformed is returned when a token cannot be decoded into a credential.
var ErrMalformed = errors.New("malformed credential")

// Decoder turns an opaque token into a Credential. It is the only place
// tokens are parsed.
//
// With no verification key the signature is not checked: the issuer is the
// authority and the client only needs the expiry claim. With a key, HS256
// (shared secret) or RS256 (PEM public key) signatures are enforced.
type Decoder struct {
	key    any
	method string
	issuer string
}

// NewDecoder builds a decoder. verifyKey may be empty, a shared secret, or a
// PEM-encoded RSA public key.
func NewDecoder(verifyKey, issuer string) (*Decoder, error) {
	d := &Decoder{issuer: issuer}
	switch {
	case verifyKey == "":
	case strings.Contains(verifyKey, "-----BEGIN"):
		pub, err := parseRSAPublicKey(verifyKey)
		if err != nil {
			return nil, fmt.Errorf("parse verify key: %w", err)
		}
		d.key, d.method = pub, jwt.SigningMethodRS256.Alg()
	default:
		d.key, d.method = []byte(verifyKey), jwt.SigningMethodHS256.Alg()
	}
	return d, nil
}

// Decode extracts subject, issued-at and expiry. Expired tokens decode
// successfully; deciding validity is the guard's job.
func (d *Decoder) Decode(token string) (model.Credential, error) {
	if token == "" {
		return model.Credential{}, ErrMalformed
	}

	// Time claims are checked by the guard against its own clock.
	opts := []jwt.ParserOption{jwt.WithoutClaimsValidation()}
	var claims jwt.RegisteredClaims

	if d.key == nil {
		if _, _, err := jwt.NewParser(opts...).ParseUnverified(token, &claims); err != nil {
			return model.Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{d.method}))
		_, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
			return d.key, nil
		})
		if err != nil {
			return model.Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if claims.ExpiresAt == nil {
		return model.Credential{}, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}
	if d.issuer != "" && claims.Issuer != d.issuer {
		return model.Credential{}, fmt.Errorf("%w: unexpected issuer %q", ErrMalformed, claims.Issuer)
	}

	cred := model.Credential{
		Token:     token,
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time
	}
	return cred, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
}
