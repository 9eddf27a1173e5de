package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/auth"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// api serves the /v1 endpoints.
type api struct {
	service *auth.Service
	records store.Store
	logger  observe.Logger
}

func newAPI(service *auth.Service, records store.Store, logger observe.Logger) *api {
	return &api{service: service, records: records, logger: observe.OrNop(logger)}
}

func (a *api) register(mux *http.ServeMux) {
	authn := auth.Middleware(a.service)
	// Minting credentials needs a recent login.
	fresh := auth.LeaseMiddleware(a.service)

	mux.Handle("POST /v1/token", authn(http.HandlerFunc(a.issueToken)))
	mux.HandleFunc("POST /v1/token/refresh", a.refreshToken)
	mux.Handle("POST /v1/token/revoke", authn(http.HandlerFunc(a.revoke)))
	mux.Handle("POST /v1/keys", fresh(http.HandlerFunc(a.createAPIKey)))
	mux.Handle("POST /v1/app-passwords", fresh(http.HandlerFunc(a.createAppPassword)))
	mux.Handle("GET /v1/whoami", authn(http.HandlerFunc(a.whoami)))
	mux.Handle("POST /v1/authorize", authn(http.HandlerFunc(a.authorize)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return auth.ValidationError(map[string]string{"body": err.Error()})
	}
	return nil
}

// issueToken exchanges application password credentials for a token pair.
func (a *api) issueToken(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id.Method != auth.AuthMethodAppPassword {
		auth.WriteError(w, &auth.Error{Kind: auth.KindInvalid, Message: "token issuance requires application password credentials"})
		return
	}
	pair, err := a.service.IssueTokens(r.Context(), id.UserID, id.Roles)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *api) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	pair, err := a.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type revokeRequest struct {
	// ID is a token, API key or application password id.
	ID string `json:"id"`

	// Scope revokes the caller's own tokens instead: "session" for the
	// current login, "user" for every login.
	Scope string `json:"scope"`
}

type revokeResponse struct {
	Revoked int `json:"revoked"`
}

func (a *api) revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.IdentityFromContext(ctx)
	// Scoped keys need the delete scope, even for their owner's credentials.
	if !id.HasScope(string(auth.ActionDelete)) {
		auth.WriteError(w, &auth.Error{Kind: auth.KindForbidden, Message: `credential scopes do not include "delete"`})
		return
	}

	var req revokeRequest
	if err := decode(w, r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}

	var (
		n   int
		err error
	)
	switch {
	case req.ID != "" && req.Scope != "":
		err = auth.ValidationError(map[string]string{"scope": "not allowed together with id"})
	case req.Scope == "session":
		p, ok := id.Principal.(auth.JWTPrincipal)
		if !ok {
			err = auth.ValidationError(map[string]string{"scope": "session revocation requires a bearer token"})
			break
		}
		n, err = a.service.RevokeSession(ctx, p.SessionID)
	case req.Scope == "user":
		n, err = a.service.RevokeUser(ctx, id.UserID)
	case req.Scope != "":
		err = auth.ValidationError(map[string]string{"scope": fmt.Sprintf("unknown scope %q", req.Scope)})
	case req.ID == "":
		err = auth.ValidationError(map[string]string{"id": "required"})
	default:
		err = a.revokeByID(ctx, id, req.ID)
		n = 1
	}
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: n})
}

// revokeByID lets owners revoke their own credentials. Revoking someone
// else's needs delete permission on their resources.
func (a *api) revokeByID(ctx context.Context, id *auth.Identity, credentialID string) error {
	owner, err := a.ownerOf(ctx, credentialID)
	if err != nil {
		return err
	}
	if owner != id.UserID {
		if err := a.service.Authorize(ctx, id, owner, auth.ActionDelete); err != nil {
			return err
		}
	}
	return a.service.Revoke(ctx, credentialID)
}

func (a *api) ownerOf(ctx context.Context, credentialID string) (string, error) {
	lookups := []func(context.Context, string) (string, error){
		func(ctx context.Context, id string) (string, error) {
			rec, err := a.records.GetToken(ctx, id)
			if err != nil {
				return "", err
			}
			return rec.UserID, nil
		},
		func(ctx context.Context, id string) (string, error) {
			rec, err := a.records.GetAPIKey(ctx, id)
			if err != nil {
				return "", err
			}
			return rec.UserID, nil
		},
		func(ctx context.Context, id string) (string, error) {
			rec, err := a.records.GetAppPassword(ctx, id)
			if err != nil {
				return "", err
			}
			return rec.UserID, nil
		},
	}
	for _, lookup := range lookups {
		owner, err := lookup(ctx, credentialID)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error(ctx, "credential lookup failed", observe.F("error", err))
			return "", &auth.Error{Kind: auth.KindInternal, Cause: err}
		}
	}
	return "", auth.ValidationError(map[string]string{"id": "unknown credential"})
}

// canMintCredentials rejects API key callers, so a leaked key cannot be
// used to create further credentials.
func canMintCredentials(id *auth.Identity) error {
	if id.Method == auth.AuthMethodAPIKey {
		return &auth.Error{Kind: auth.KindForbidden, Message: "API keys cannot create credentials"}
	}
	return nil
}

// grantedRoles returns requested, or the caller's roles when empty.
// Callers cannot grant roles they do not hold.
func grantedRoles(id *auth.Identity, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(id.Roles), nil
	}
	for _, role := range requested {
		if !id.HasRole(role) {
			return nil, &auth.Error{Kind: auth.KindForbidden, Message: fmt.Sprintf("cannot grant role %q", role)}
		}
	}
	return slices.Clone(requested), nil
}

type createAPIKeyRequest struct {
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
	RateLimit int       `json:"rate_limit"`

	// RateLimitWindow is in seconds.
	RateLimitWindow int `json:"rate_limit_window"`
}

type createAPIKeyResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes,omitempty"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	RateLimit int       `json:"rate_limit"`
	Window    int       `json:"rate_limit_window"`
}

func (a *api) createAPIKey(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if err := canMintCredentials(id); err != nil {
		auth.WriteError(w, err)
		return
	}
	var req createAPIKeyRequest
	if err := decode(w, r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	roles, err := grantedRoles(id, req.Roles)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	created, err := a.service.CreateAPIKey(r.Context(), id.UserID, req.Name, req.Scopes, auth.APIKeyOptions{
		Roles:           roles,
		ExpiresAt:       req.ExpiresAt,
		RateLimit:       req.RateLimit,
		RateLimitWindow: time.Duration(req.RateLimitWindow) * time.Second,
	})
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	rec := created.Record
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        rec.ID,
		Key:       created.Key,
		Name:      rec.Name,
		Scopes:    rec.Scopes,
		Roles:     rec.Roles,
		ExpiresAt: rec.ExpiresAt,
		RateLimit: rec.RateLimit,
		Window:    int(rec.RateLimitWindow / time.Second),
	})
}

type createAppPasswordRequest struct {
	Login string   `json:"login"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

type createAppPasswordResponse struct {
	ID       string `json:"id"`
	Login    string `json:"login"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *api) createAppPassword(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if err := canMintCredentials(id); err != nil {
		auth.WriteError(w, err)
		return
	}
	var req createAppPasswordRequest
	if err := decode(w, r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	roles, err := grantedRoles(id, req.Roles)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	created, err := a.service.CreateAppPassword(r.Context(), id.UserID, req.Login, req.Name, roles)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAppPasswordResponse{
		ID:       created.Record.ID,
		Login:    created.Record.Login,
		Name:     created.Record.Name,
		Password: created.Password,
	})
}

type whoamiResponse struct {
	UserID       string          `json:"user_id"`
	Roles        []string        `json:"roles"`
	Scopes       []string        `json:"scopes,omitempty"`
	Method       auth.AuthMethod `json:"method"`
	CredentialID string          `json:"credential_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
}

func (a *api) whoami(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	resp := whoamiResponse{UserID: id.UserID, Roles: id.Roles, Scopes: id.Scopes, Method: id.Method}
	switch p := id.Principal.(type) {
	case auth.JWTPrincipal:
		resp.CredentialID, resp.SessionID = p.TokenID, p.SessionID
	case auth.APIKeyPrincipal:
		resp.CredentialID = p.KeyID
	case auth.AppPasswordPrincipal:
		resp.CredentialID = p.PasswordID
	}
	writeJSON(w, http.StatusOK, resp)
}

type authorizeRequest struct {
	OwnerID string `json:"owner_id"`
	Action  string `json:"action"`
}

type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// authorize reports the policy decision for the caller without acting on
// it. Denials are a 200 with allowed=false.
func (a *api) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decode(w, r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	action, ok := auth.ParseAction(req.Action)
	if !ok {
		auth.WriteError(w, auth.ValidationError(map[string]string{"action": fmt.Sprintf("unknown action %q", req.Action)}))
		return
	}
	d := a.service.Decide(auth.IdentityFromContext(r.Context()), req.OwnerID, action)
	writeJSON(w, http.StatusOK, authorizeResponse{Allowed: d.Allowed, Role: d.Role, Reason: d.Reason})
}
