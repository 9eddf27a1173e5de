package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Key errors.
var (
	ErrUnsupportedAlgorithm = errors.New("auth: unsupported signing algorithm")
	ErrNoSigningKey         = errors.New("auth: no private key configured")
	ErrInvalidKey           = errors.New("auth: invalid key material")
)

// DefaultAlgorithm is the signing algorithm used when none is configured.
const DefaultAlgorithm = "RS256"

// Asymmetric algorithms only: verification always uses a public key.
var signingMethods = map[string]jwt.SigningMethod{
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
	"ES256": jwt.SigningMethodES256,
	"EdDSA": jwt.SigningMethodEdDSA,
}

// SigningKeys is the key pair used to sign and verify tokens. A SigningKeys
// without a private key can verify but not issue.
type SigningKeys struct {
	method  jwt.SigningMethod
	keyID   string
	private crypto.PrivateKey
	public  crypto.PublicKey
}

// Algorithm returns the JWT alg name.
func (k *SigningKeys) Algorithm() string { return k.method.Alg() }

// KeyID returns the kid placed in token headers, possibly empty.
func (k *SigningKeys) KeyID() string { return k.keyID }

// CanSign reports whether a private key is present.
func (k *SigningKeys) CanSign() bool { return k.private != nil }

// ParseSigningKeys loads PEM encoded keys for alg. publicPEM may be empty
// when privatePEM is given; the public key is then derived. privatePEM may
// be empty for verify-only deployments.
func ParseSigningKeys(alg, keyID string, privatePEM, publicPEM []byte) (*SigningKeys, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if len(privatePEM) == 0 && len(publicPEM) == 0 {
		return nil, fmt.Errorf("%w: no key given", ErrInvalidKey)
	}

	keys := &SigningKeys{method: method, keyID: keyID}
	var err error
	if len(privatePEM) > 0 {
		if keys.private, err = parsePrivateKey(alg, privatePEM); err != nil {
			return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
		}
		keys.public = keys.private.(crypto.Signer).Public()
	}
	if len(publicPEM) > 0 {
		if keys.public, err = parsePublicKey(alg, publicPEM); err != nil {
			return nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
		}
	}
	return keys, nil
}

func parsePrivateKey(alg string, data []byte) (crypto.PrivateKey, error) {
	switch alg {
	case "RS256", "RS384", "RS512":
		return jwt.ParseRSAPrivateKeyFromPEM(data)
	case "ES256":
		return jwt.ParseECPrivateKeyFromPEM(data)
	default:
		return jwt.ParseEdPrivateKeyFromPEM(data)
	}
}

func parsePublicKey(alg string, data []byte) (crypto.PublicKey, error) {
	switch alg {
	case "RS256", "RS384", "RS512":
		return jwt.ParseRSAPublicKeyFromPEM(data)
	case "ES256":
		return jwt.ParseECPublicKeyFromPEM(data)
	default:
		return jwt.ParseEdPublicKeyFromPEM(data)
	}
}

// GenerateSigningKeys creates a fresh key pair for alg. Tokens signed with
// generated keys do not survive a restart.
func GenerateSigningKeys(alg, keyID string) (*SigningKeys, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	var signer crypto.Signer
	var err error
	switch alg {
	case "RS256", "RS384", "RS512":
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case "ES256":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	}
	if err != nil {
		return nil, err
	}
	return &SigningKeys{method: method, keyID: keyID, private: signer, public: signer.Public()}, nil
}
