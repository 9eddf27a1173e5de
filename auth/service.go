package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/ratelimit"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// Methods enables credential strategies.
type Methods struct {
	JWT         bool
	APIKey      bool
	AppPassword bool
}

// Config configures a Service.
type Config struct {
	Methods     Methods
	JWT         JWTConfig
	Tokens      TokenConfig
	APIKey      APIKeyConfig
	AppPassword AppPasswordConfig
	RateLimits  RateLimits
	Policy      PolicyConfig
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store store.Store
	Keys  *SigningKeys

	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.Layered

	// Clock and Instrumentation are optional.
	Clock           clock.Clock
	Instrumentation *observe.Instrumentation
}

// ErrMissingDependency is returned by NewService when Store or Keys is nil.
var ErrMissingDependency = errors.New("auth: missing dependency")

// Service is the entry point used by transports: it authenticates
// requests, authorizes actions and manages credentials.
type Service struct {
	dispatcher *Dispatcher
	tokens     *TokenManager
	jwt        *JWTAuthenticator
	policy     atomic.Pointer[PolicyEngine]
	ins        *observe.Instrumentation
}

// NewService wires the strategies enabled in config.
func NewService(config Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Keys == nil {
		return nil, ErrMissingDependency
	}
	ins := observe.OrNopInstrumentation(deps.Instrumentation)
	logger := ins.Logger.With(observe.F("component", "auth"))

	jwtAuth := NewJWTAuthenticator(config.JWT, deps.Keys, deps.Store, deps.Clock)

	// API key, then bearer, then basic.
	var strategies []Authenticator
	if config.Methods.APIKey {
		strategies = append(strategies, NewAPIKeyAuthenticator(config.APIKey, deps.Store, deps.Clock, logger))
	}
	if config.Methods.JWT {
		strategies = append(strategies, jwtAuth)
	}
	if config.Methods.AppPassword {
		strategies = append(strategies, NewAppPasswordAuthenticator(config.AppPassword, deps.Store, deps.Clock, logger))
	}

	s := &Service{
		dispatcher: NewDispatcher(DispatcherConfig{
			Limits:          config.RateLimits,
			Limiter:         deps.Limiter,
			Instrumentation: ins,
		}, strategies...),
		tokens: NewTokenManager(config.Tokens, jwtAuth, deps.Store, config.APIKey, config.AppPassword,
			&observe.Instrumentation{Tracer: ins.Tracer, Metrics: ins.Metrics, Logger: logger}),
		jwt: jwtAuth,
		ins: ins,
	}
	s.policy.Store(NewPolicyEngine(config.Policy))
	return s, nil
}

// SetPolicy replaces the policy engine. In-flight evaluations finish with
// the engine they started with.
func (s *Service) SetPolicy(engine *PolicyEngine) {
	if engine != nil {
		s.policy.Store(engine)
	}
}

// Policy returns the current policy engine.
func (s *Service) Policy() *PolicyEngine { return s.policy.Load() }

// Tokens returns the token manager.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// Authenticate resolves the identity behind req or returns an *Error.
func (s *Service) Authenticate(ctx context.Context, req *AuthRequest) (*Identity, error) {
	result, err := s.dispatcher.Authenticate(ctx, req)
	if err != nil {
		return nil, toInternal("authenticate", err)
	}
	if !result.Authenticated {
		return nil, result.Error
	}
	return result.Identity, nil
}

// Authorize returns nil if identity may perform action on a resource owned
// by ownerID, or a FORBIDDEN *Error.
func (s *Service) Authorize(ctx context.Context, identity *Identity, ownerID string, action Action) error {
	d := s.Decide(identity, ownerID, action)
	if d.Allowed {
		return nil
	}
	s.ins.Logger.Debug(ctx, "authorization denied",
		observe.F("action", string(action)), observe.F("reason", d.Reason))
	return &Error{Kind: KindForbidden, Message: d.Reason}
}

// Authorizer adapts Authorize to the Authorizer interface, for use with
// RequireAction. It follows policy replacements made with SetPolicy.
func (s *Service) Authorizer() Authorizer {
	return AuthorizerFunc(func(ctx context.Context, req *AuthzRequest) error {
		return s.Authorize(ctx, req.Subject, req.OwnerID, req.Action)
	})
}

// Decide evaluates the current policy.
func (s *Service) Decide(identity *Identity, ownerID string, action Action) Decision {
	return s.policy.Load().Authorize(identity, ownerID, action)
}

// IssueTokens starts a session for userID.
func (s *Service) IssueTokens(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.observe(ctx, observe.Operation{Name: "issue", UserID: userID}, func(ctx context.Context) error {
		var err error
		pair, err = s.tokens.IssueTokens(ctx, userID, roles)
		return err
	})
	return pair, err
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.observe(ctx, observe.Operation{Name: "refresh", Method: string(AuthMethodJWT)}, func(ctx context.Context) error {
		var err error
		pair, err = s.tokens.Refresh(ctx, refreshToken)
		return err
	})
	return pair, err
}

// Revoke revokes a token, API key or application password by id.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.observe(ctx, observe.Operation{Name: "revoke"}, func(ctx context.Context) error {
		return s.tokens.Revoke(ctx, id)
	})
}

// RevokeSession revokes every token of a session.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	n, err := s.tokens.RevokeSession(ctx, sessionID)
	return n, s.wrap(ctx, "revoke_session", err)
}

// RevokeUser revokes every token of a user.
func (s *Service) RevokeUser(ctx context.Context, userID string) (int, error) {
	n, err := s.tokens.RevokeUser(ctx, userID)
	return n, s.wrap(ctx, "revoke_user", err)
}

// CreateAPIKey creates an API key. The plaintext key is only available in
// the result.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string, scopes []string, opts APIKeyOptions) (*CreatedAPIKey, error) {
	created, err := s.tokens.CreateAPIKey(ctx, userID, name, scopes, opts)
	return created, s.wrap(ctx, "create_api_key", err)
}

// CreateAppPassword creates an application password.
func (s *Service) CreateAppPassword(ctx context.Context, userID, login, name string, roles []string) (*CreatedAppPassword, error) {
	created, err := s.tokens.CreateAppPassword(ctx, userID, login, name, roles)
	return created, s.wrap(ctx, "create_app_password", err)
}

// Sweep deletes expired token records past their retention.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.tokens.Sweep(ctx)
	return n, s.wrap(ctx, "sweep", err)
}

func (s *Service) observe(ctx context.Context, op observe.Operation, fn func(context.Context) error) error {
	var err error
	s.ins.Observe(ctx, op, func(ctx context.Context) observe.Outcome {
		err = fn(ctx)
		var ae *Error
		switch {
		case err == nil:
			return observe.Outcome{}
		case errors.As(err, &ae):
			return observe.Outcome{Kind: string(ae.Kind)}
		default:
			return observe.Outcome{Kind: string(KindInternal), Err: err}
		}
	})
	// Observe has already logged unexpected failures.
	var ae *Error
	if err == nil || errors.As(err, &ae) {
		return asError(err)
	}
	return toInternal(op.Name, err)
}

// wrap converts err to an *Error, logging unexpected failures.
func (s *Service) wrap(ctx context.Context, op string, err error) error {
	var ae *Error
	if err == nil || errors.As(err, &ae) {
		return asError(err)
	}
	return s.internal(ctx, op, err)
}

func (s *Service) internal(ctx context.Context, op string, err error) *Error {
	s.ins.Logger.Error(ctx, "auth operation failed", observe.F("operation", op), observe.F("error", err))
	return toInternal(op, err)
}

func toInternal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: KindInternal.defaultMessage(), Cause: fmt.Errorf("%s: %w", op, err)}
}

// asError returns nil for a nil err, so callers never see a typed nil.
func asError(err error) error {
	if err == nil {
		return nil
	}
	return AsError(err)
}
