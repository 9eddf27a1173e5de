package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

func pemEncode(t *testing.T, keys *SigningKeys) (private, public []byte) {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(keys.private)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	private = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	der, err = x509.MarshalPKIXPublicKey(keys.public)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	public = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return private, public
}

func TestSigningKeys_RoundTrip(t *testing.T) {
	for _, alg := range []string{"RS256", "ES256", "EdDSA"} {
		t.Run(alg, func(t *testing.T) {
			generated, err := GenerateSigningKeys(alg, "k1")
			if err != nil {
				t.Fatalf("GenerateSigningKeys() error = %v", err)
			}
			private, public := pemEncode(t, generated)

			signer, err := ParseSigningKeys(alg, "k1", private, nil)
			if err != nil {
				t.Fatalf("ParseSigningKeys(private) error = %v", err)
			}
			verifier, err := ParseSigningKeys(alg, "k1", nil, public)
			if err != nil {
				t.Fatalf("ParseSigningKeys(public) error = %v", err)
			}
			if !signer.CanSign() || verifier.CanSign() {
				t.Fatalf("CanSign() = %v/%v, want true/false", signer.CanSign(), verifier.CanSign())
			}
			if verifier.Algorithm() != alg || verifier.KeyID() != "k1" {
				t.Errorf("verifier = %s/%s", verifier.Algorithm(), verifier.KeyID())
			}

			clk := clock.NewFake(epoch)
			tokens := store.NewMemory()
			rec := &store.TokenRecord{
				ID: "t1", UserID: "42", SessionID: "s1", Type: store.TokenAccess,
				IssuedAt: epoch, ExpiresAt: epoch.Add(time.Hour),
			}
			if err := tokens.CreateTokens(context.Background(), rec); err != nil {
				t.Fatal(err)
			}

			token, err := NewJWTAuthenticator(JWTConfig{}, signer, tokens, clk).signRecord(rec)
			if err != nil {
				t.Fatalf("signRecord() error = %v", err)
			}
			result, err := NewJWTAuthenticator(JWTConfig{}, verifier, tokens, clk).ValidateAccess(context.Background(), token, ValidateOptions{})
			if err != nil || !result.Authenticated {
				t.Fatalf("ValidateAccess() = %+v, %v", result, err)
			}

			if _, err := NewJWTAuthenticator(JWTConfig{}, verifier, tokens, clk).signRecord(rec); !errors.Is(err, ErrNoSigningKey) {
				t.Errorf("verify-only sign error = %v, want ErrNoSigningKey", err)
			}
		})
	}
}

func TestParseSigningKeys_Errors(t *testing.T) {
	_, public := pemEncode(t, testKeys(t))

	tests := []struct {
		name    string
		alg     string
		private []byte
		public  []byte
		want    error
	}{
		{"symmetric algorithm", "HS256", nil, public, ErrUnsupportedAlgorithm},
		{"unknown algorithm", "none", nil, public, ErrUnsupportedAlgorithm},
		{"no key", "RS256", nil, nil, ErrInvalidKey},
		{"garbage private key", "RS256", []byte("not pem"), nil, ErrInvalidKey},
		{"key of another type", "ES256", nil, public, ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSigningKeys(tt.alg, "", tt.private, tt.public)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateSigningKeys_DefaultAlgorithm(t *testing.T) {
	keys, err := GenerateSigningKeys("", "")
	if err != nil {
		t.Fatalf("GenerateSigningKeys() error = %v", err)
	}
	if keys.Algorithm() != DefaultAlgorithm {
		t.Errorf("Algorithm() = %q, want %q", keys.Algorithm(), DefaultAlgorithm)
	}
	if _, err := GenerateSigningKeys("HS256", ""); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("HS256 error = %v", err)
	}
}
