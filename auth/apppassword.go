package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// ErrInvalidHash is returned for stored hashes that are not argon2id PHC
// strings.
var ErrInvalidHash = errors.New("auth: invalid password hash")

const (
	appPasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	appPasswordLength   = 24
)

// Argon2Params are the argon2id cost parameters for application passwords.
type Argon2Params struct {
	// Memory is in KiB.
	// Default: 65536 (64 MiB)
	Memory uint32

	// Default: 1
	Time uint32

	// Default: 2
	Parallelism uint8

	// Default: 16
	SaltLength uint32

	// Default: 32
	KeyLength uint32
}

func (p *Argon2Params) applyDefaults() {
	if p.Memory == 0 {
		p.Memory = 64 * 1024
	}
	if p.Time == 0 {
		p.Time = 1
	}
	if p.Parallelism == 0 {
		p.Parallelism = 2
	}
	if p.SaltLength == 0 {
		p.SaltLength = 16
	}
	if p.KeyLength == 0 {
		p.KeyLength = 32
	}
}

// AppPasswordConfig configures the application password authenticator.
type AppPasswordConfig struct {
	Argon2 Argon2Params
}

// AppPasswordAuthenticator validates application passwords presented with
// HTTP Basic auth as login:password.
type AppPasswordAuthenticator struct {
	config    AppPasswordConfig
	passwords store.AppPasswordStore
	clock     clock.Clock
	logger    observe.Logger
}

// NewAppPasswordAuthenticator creates an application password
// authenticator.
func NewAppPasswordAuthenticator(config AppPasswordConfig, passwords store.AppPasswordStore, clk clock.Clock, logger observe.Logger) *AppPasswordAuthenticator {
	config.Argon2.applyDefaults()
	return &AppPasswordAuthenticator{
		config:    config,
		passwords: passwords,
		clock:     clock.OrSystem(clk),
		logger:    observe.OrNop(logger),
	}
}

// Scheme returns AuthMethodAppPassword.
func (a *AppPasswordAuthenticator) Scheme() AuthMethod { return AuthMethodAppPassword }

// Supports returns true for Basic authorization headers.
func (a *AppPasswordAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	_, ok := basicCredential(req)
	return ok
}

func basicCredential(req *AuthRequest) (string, bool) {
	header := req.GetHeader("Authorization")
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// Validate checks that credential is base64 of a non-empty login:password.
func (a *AppPasswordAuthenticator) Validate(_ context.Context, credential string) error {
	_, _, err := decodeBasic(credential)
	return err
}

func decodeBasic(credential string) (login, password string, err error) {
	raw, decodeErr := base64.StdEncoding.DecodeString(credential)
	if decodeErr != nil {
		return "", "", newError(KindInvalid, "malformed basic credentials")
	}
	login, password, ok := strings.Cut(string(raw), ":")
	if !ok || login == "" || password == "" {
		return "", "", newError(KindInvalid, "malformed basic credentials")
	}
	return login, normalizeAppPassword(password), nil
}

// normalizeAppPassword drops the spaces used to display passwords in
// groups.
func normalizeAppPassword(password string) string {
	return strings.ReplaceAll(password, " ", "")
}

// Authenticate checks the password against every password of the login.
func (a *AppPasswordAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	credential, _ := basicCredential(req)
	login, password, err := decodeBasic(credential)
	if err != nil {
		return AuthFailure(AsError(err), AuthMethodAppPassword), nil
	}

	recs, err := a.passwords.ListAppPasswords(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("app_password: lookup: %w", err)
	}

	var revokedMatch bool
	for _, rec := range recs {
		ok, err := VerifyAppPassword(password, rec.Hash)
		if err != nil {
			a.logger.Error(ctx, "stored app password hash is unusable",
				observe.F("password_id", rec.ID), observe.F("error", err))
			continue
		}
		if !ok {
			continue
		}
		if rec.Revoked() {
			revokedMatch = true
			continue
		}

		if err := a.passwords.TouchAppPassword(ctx, rec.ID, a.clock.Now(), req.ClientIP()); err != nil {
			a.logger.Warn(ctx, "failed to record app password use",
				observe.F("password_id", rec.ID), observe.F("error", err))
		}
		return AuthSuccess(newIdentity(rec.UserID, rec.Roles, nil, AppPasswordPrincipal{
			PasswordID: rec.ID,
			Login:      rec.Login,
			Name:       rec.Name,
		})), nil
	}

	if revokedMatch {
		return AuthFailure(newError(KindRevoked, "application password has been revoked"), AuthMethodAppPassword), nil
	}
	return AuthFailure(newError(KindInvalid, "invalid login or application password"), AuthMethodAppPassword), nil
}

// GenerateAppPassword returns a random 24 character password.
func GenerateAppPassword() (string, error) {
	// Bytes at or above limit are rejected to keep the choice uniform.
	const limit = 256 - 256%len(appPasswordAlphabet)
	out := make([]byte, 0, appPasswordLength)
	buf := make([]byte, appPasswordLength)
	for len(out) < appPasswordLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit || len(out) == appPasswordLength {
				continue
			}
			out = append(out, appPasswordAlphabet[int(b)%len(appPasswordAlphabet)])
		}
	}
	return string(out), nil
}

// FormatAppPassword groups password in blocks of four for display.
func FormatAppPassword(password string) string {
	var b strings.Builder
	for i := 0; i < len(password); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(password[i:min(i+4, len(password))])
	}
	return b.String()
}

// HashAppPassword derives an argon2id PHC string for password.
func HashAppPassword(password string, params Argon2Params) (string, error) {
	params.applyDefaults()
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(normalizeAppPassword(password)), salt, params.Time, params.Memory, params.Parallelism, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyAppPassword compares password with a PHC string in constant time.
func VerifyAppPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return false, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var memory, time uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: key", ErrInvalidHash)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Ensure AppPasswordAuthenticator implements Authenticator
var _ Authenticator = (*AppPasswordAuthenticator)(nil)

// Ensure AppPasswordAuthenticator implements CredentialValidator
var _ CredentialValidator = (*AppPasswordAuthenticator)(nil)
