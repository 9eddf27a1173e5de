package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of *sql.DB and *sql.Tx used by the Postgres store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, tx)
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return db, nil
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUp(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return ErrDuplicate
	case IsPermanent(err), errors.Is(err, ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeList(data []byte) ([]string, error) {
	var v []string
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("store: decode list: %w", err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

const tokenColumns = `id, user_id, token_type, session_id, pair_id, roles, issued_at, expires_at, revoked_at, revoke_reason, superseded_at, successor_id`

func insertToken(ctx context.Context, db DBTX, rec *TokenRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO auth_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.UserID, string(rec.Type), rec.SessionID, rec.PairID, encodeList(rec.Roles),
		rec.IssuedAt.UTC(), nullTime(rec.ExpiresAt), nullTime(rec.RevokedAt), rec.RevokeReason,
		nullTime(rec.SupersededAt), rec.SuccessorID)
	return dbError(err)
}

func scanToken(row scanner) (*TokenRecord, error) {
	var (
		rec                          TokenRecord
		typ                          string
		roles                        []byte
		expires, revoked, superseded sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &typ, &rec.SessionID, &rec.PairID, &roles,
		&rec.IssuedAt, &expires, &revoked, &rec.RevokeReason, &superseded, &rec.SuccessorID); err != nil {
		return nil, dbError(err)
	}
	var err error
	if rec.Roles, err = decodeList(roles); err != nil {
		return nil, err
	}
	rec.Type = TokenType(typ)
	rec.ExpiresAt = timeOf(expires)
	rec.RevokedAt = timeOf(revoked)
	rec.SupersededAt = timeOf(superseded)
	return &rec, nil
}

// CreateTokens inserts token records in one transaction.
func (s *Postgres) CreateTokens(ctx context.Context, records ...*TokenRecord) error {
	return dbError(WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		for _, rec := range records {
			if err := insertToken(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	}))
}

// GetToken returns a token record.
func (s *Postgres) GetToken(ctx context.Context, id string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM auth_tokens WHERE id = $1`, id)
	return scanToken(row)
}

// RotateRefresh relies on the row lock taken by the conditional UPDATE:
// a concurrent rotation blocks, re-evaluates revoked_at IS NULL and
// affects no rows.
func (s *Postgres) RotateRefresh(ctx context.Context, oldID string, at time.Time, next []*TokenRecord) error {
	return dbError(WithTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE auth_tokens SET revoked_at = $2, revoke_reason = $3, successor_id = $4 WHERE id = $1 AND revoked_at IS NULL`,
			oldID, at.UTC(), ReasonRotated, successorID(next))
		if err != nil {
			return dbError(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return dbError(err)
		} else if n == 0 {
			if err := s.exists(ctx, tx, "auth_tokens", oldID); err != nil {
				return err
			}
			return ErrAlreadyRotated
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE auth_tokens SET superseded_at = $2 WHERE id = (SELECT pair_id FROM auth_tokens WHERE id = $1) AND superseded_at IS NULL`,
			oldID, at.UTC()); err != nil {
			return dbError(err)
		}
		for _, rec := range next {
			if err := insertToken(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *Postgres) exists(ctx context.Context, db DBTX, table, id string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	return dbError(err)
}

// RevokeToken marks a token revoked.
func (s *Postgres) RevokeToken(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_tokens SET revoked_at = $2, revoke_reason = $3 WHERE id = $1 AND revoked_at IS NULL`,
		id, at.UTC(), reason)
	if err != nil {
		return dbError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.exists(ctx, s.db, "auth_tokens", id)
	}
	return nil
}

// RevokeSession revokes all active tokens of a session.
func (s *Postgres) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int, error) {
	return s.execCount(ctx,
		`UPDATE auth_tokens SET revoked_at = $2, revoke_reason = $3 WHERE session_id = $1 AND revoked_at IS NULL`,
		sessionID, at.UTC(), reason)
}

// RevokeUserTokens revokes all active tokens of a user.
func (s *Postgres) RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	return s.execCount(ctx,
		`UPDATE auth_tokens SET revoked_at = $2, revoke_reason = $3 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, at.UTC(), reason)
}

// DeleteExpiredTokens removes tokens that expired before cutoff.
func (s *Postgres) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int, error) {
	return s.execCount(ctx,
		`DELETE FROM auth_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff.UTC())
}

func (s *Postgres) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return int(n), nil
}

const apiKeyColumns = `id, key_hash, prefix, user_id, name, scopes, roles, last_used, last_ip, created_at, expires_at, rate_limit, rate_limit_window, revoked_at`

func scanAPIKey(row scanner) (*APIKeyRecord, error) {
	var (
		rec                        APIKeyRecord
		scopes, roles              []byte
		lastUsed, expires, revoked sql.NullTime
		windowSeconds              int64
	)
	if err := row.Scan(&rec.ID, &rec.KeyHash, &rec.Prefix, &rec.UserID, &rec.Name, &scopes, &roles,
		&lastUsed, &rec.LastIP, &rec.CreatedAt, &expires, &rec.RateLimit, &windowSeconds, &revoked); err != nil {
		return nil, dbError(err)
	}
	var err error
	if rec.Scopes, err = decodeList(scopes); err != nil {
		return nil, err
	}
	if rec.Roles, err = decodeList(roles); err != nil {
		return nil, err
	}
	rec.LastUsed = timeOf(lastUsed)
	rec.ExpiresAt = timeOf(expires)
	rec.RevokedAt = timeOf(revoked)
	rec.RateLimitWindow = time.Duration(windowSeconds) * time.Second
	return &rec, nil
}

// CreateAPIKey inserts an API key.
func (s *Postgres) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.KeyHash, rec.Prefix, rec.UserID, rec.Name, encodeList(rec.Scopes), encodeList(rec.Roles),
		nullTime(rec.LastUsed), rec.LastIP, rec.CreatedAt.UTC(), nullTime(rec.ExpiresAt),
		rec.RateLimit, int64(rec.RateLimitWindow/time.Second), nullTime(rec.RevokedAt))
	return dbError(err)
}

// GetAPIKey returns an API key by id.
func (s *Postgres) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

// GetAPIKeyByHash returns an API key by secret hash.
func (s *Postgres) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
}

// ListAPIKeys returns a user's keys ordered by creation time.
func (s *Postgres) ListAPIKeys(ctx context.Context, userID string) ([]*APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []*APIKeyRecord
	for rows.Next() {
		rec, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, dbError(rows.Err())
}

// RevokeAPIKey soft-deletes an API key.
func (s *Postgres) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at.UTC())
	if err != nil {
		return dbError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.exists(ctx, s.db, "api_keys", id)
	}
	return nil
}

// TouchAPIKey records last use.
func (s *Postgres) TouchAPIKey(ctx context.Context, id string, at time.Time, ip string) error {
	n, err := s.execCount(ctx,
		`UPDATE api_keys SET last_used = $2, last_ip = $3 WHERE id = $1`, id, at.UTC(), ip)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const appPasswordColumns = `id, user_id, login, name, hash, roles, created_at, last_used, last_ip, revoked_at`

func scanAppPassword(row scanner) (*AppPasswordRecord, error) {
	var (
		rec               AppPasswordRecord
		roles             []byte
		lastUsed, revoked sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Login, &rec.Name, &rec.Hash, &roles,
		&rec.CreatedAt, &lastUsed, &rec.LastIP, &revoked); err != nil {
		return nil, dbError(err)
	}
	var err error
	if rec.Roles, err = decodeList(roles); err != nil {
		return nil, err
	}
	rec.LastUsed = timeOf(lastUsed)
	rec.RevokedAt = timeOf(revoked)
	return &rec, nil
}

// CreateAppPassword inserts an application password.
func (s *Postgres) CreateAppPassword(ctx context.Context, rec *AppPasswordRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_passwords (`+appPasswordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, rec.Login, rec.Name, rec.Hash, encodeList(rec.Roles), rec.CreatedAt.UTC(),
		nullTime(rec.LastUsed), rec.LastIP, nullTime(rec.RevokedAt))
	return dbError(err)
}

// GetAppPassword returns an application password by id.
func (s *Postgres) GetAppPassword(ctx context.Context, id string) (*AppPasswordRecord, error) {
	return scanAppPassword(s.db.QueryRowContext(ctx, `SELECT `+appPasswordColumns+` FROM app_passwords WHERE id = $1`, id))
}

// ListAppPasswords returns the passwords registered for a login.
func (s *Postgres) ListAppPasswords(ctx context.Context, login string) ([]*AppPasswordRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appPasswordColumns+` FROM app_passwords WHERE login = $1 ORDER BY created_at`, login)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var out []*AppPasswordRecord
	for rows.Next() {
		rec, err := scanAppPassword(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, dbError(rows.Err())
}

// RevokeAppPassword revokes an application password.
func (s *Postgres) RevokeAppPassword(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE app_passwords SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at.UTC())
	if err != nil {
		return dbError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.exists(ctx, s.db, "app_passwords", id)
	}
	return nil
}

// TouchAppPassword records last use.
func (s *Postgres) TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error {
	n, err := s.execCount(ctx,
		`UPDATE app_passwords SET last_used = $2, last_ip = $3 WHERE id = $1`, id, at.UTC(), ip)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	return dbError(s.db.PingContext(ctx))
}

// Close closes the database handle.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// Ensure Postgres implements Store
var _ Store = (*Postgres)(nil)
