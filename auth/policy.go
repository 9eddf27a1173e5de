package auth

import (
	"context"
	"fmt"
	"slices"
)

// Action is an operation on a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
)

// Actions lists every known action.
var Actions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionPublish}

// ParseAction returns the Action named s.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	return a, slices.Contains(Actions, a)
}

// RolePolicy holds the action flags of one role.
type RolePolicy struct {
	Read    bool
	Create  bool
	Update  bool
	Delete  bool
	Publish bool

	// OwnOnly restricts every allowed action to resources the caller owns.
	OwnOnly bool
}

func (p RolePolicy) allows(a Action) bool {
	switch a {
	case ActionRead:
		return p.Read
	case ActionCreate:
		return p.Create
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	case ActionPublish:
		return p.Publish
	default:
		return false
	}
}

// RoleOverride changes some flags of a role. Nil fields keep the
// underlying value.
type RoleOverride struct {
	Read    *bool `yaml:"read"`
	Create  *bool `yaml:"create"`
	Update  *bool `yaml:"update"`
	Delete  *bool `yaml:"delete"`
	Publish *bool `yaml:"publish"`
	OwnOnly *bool `yaml:"own_only"`
}

func (o RoleOverride) apply(base RolePolicy, defaultDeny bool) RolePolicy {
	out := base
	if defaultDeny {
		// Only explicit flags can allow. OwnOnly still inherits, so
		// default-deny never loosens ownership.
		out = RolePolicy{OwnOnly: base.OwnOnly}
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.Read, o.Read)
	set(&out.Create, o.Create)
	set(&out.Update, o.Update)
	set(&out.Delete, o.Delete)
	set(&out.Publish, o.Publish)
	set(&out.OwnOnly, o.OwnOnly)
	return out
}

// PolicyConfig configures the policy engine.
type PolicyConfig struct {
	// DefaultDeny ignores built-in role flags: only flags set to true in
	// RoleOverrides allow anything.
	DefaultDeny bool

	// RoleOverrides adjusts built-in roles or defines new ones.
	RoleOverrides map[string]RoleOverride
}

// DefaultRoles returns the built-in role policies.
func DefaultRoles() map[string]RolePolicy {
	return map[string]RolePolicy{
		"administrator": {Read: true, Create: true, Update: true, Delete: true, Publish: true},
		"editor":        {Read: true, Create: true, Update: true, Delete: true, Publish: true},
		"author":        {Read: true, Create: true, Update: true, Delete: true, Publish: true, OwnOnly: true},
		"contributor":   {Read: true, Create: true, Update: true, Delete: true, OwnOnly: true},
		"subscriber":    {Read: true},
		RoleAnonymous:   {},
	}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool

	// Role is the role that granted the action.
	Role string

	// Reason explains a denial.
	Reason string
}

// PolicyEngine evaluates role policies. It is immutable once built and
// safe for concurrent use.
type PolicyEngine struct {
	roles       map[string]RolePolicy
	defaultDeny bool
}

// NewPolicyEngine builds the role table from the built-in roles and
// config.
func NewPolicyEngine(config PolicyConfig) *PolicyEngine {
	roles := DefaultRoles()
	for name, override := range config.RoleOverrides {
		roles[name] = override.apply(roles[name], config.DefaultDeny)
	}
	if config.DefaultDeny {
		for name := range roles {
			if _, ok := config.RoleOverrides[name]; !ok {
				roles[name] = RolePolicy{}
			}
		}
	}
	return &PolicyEngine{roles: roles, defaultDeny: config.DefaultDeny}
}

// Role returns the effective policy of a role.
func (e *PolicyEngine) Role(name string) (RolePolicy, bool) {
	p, ok := e.roles[name]
	return p, ok
}

// Authorize decides whether identity may perform action on a resource
// owned by ownerID. For create, an empty ownerID means the caller will own
// the new resource.
func (e *PolicyEngine) Authorize(identity *Identity, ownerID string, action Action) Decision {
	if identity == nil {
		return Decision{Reason: "no identity provided"}
	}
	if !slices.Contains(Actions, action) {
		return Decision{Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if !identity.HasScope(string(action)) {
		return Decision{Reason: fmt.Sprintf("credential scopes do not include %q", action)}
	}

	owns := identity.UserID != "" && (identity.UserID == ownerID || (action == ActionCreate && ownerID == ""))
	reason := "no role permits this action"
	for _, name := range identity.Roles {
		p, ok := e.roles[name]
		if !ok || !p.allows(action) {
			continue
		}
		if p.OwnOnly && !owns {
			reason = fmt.Sprintf("role %q may only %s own resources", name, action)
			continue
		}
		return Decision{Allowed: true, Role: name}
	}
	return Decision{Reason: reason}
}

// Authorizer determines if an identity is allowed to perform an action.
type Authorizer interface {
	// Authorize checks if the request is permitted.
	// Returns nil if authorized, or an error (typically *AuthzError) if denied.
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	// Subject is the identity making the request.
	Subject *Identity

	// OwnerID is the user owning the target resource.
	OwnerID string

	// Action is the requested action.
	Action Action
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	// Subject is the user that was denied.
	Subject string

	// OwnerID is the owner of the resource.
	OwnerID string

	// Action is the action that was denied.
	Action Action

	// Reason explains why access was denied.
	Reason string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q owner=%q action=%q reason=%q",
		e.Subject, e.OwnerID, e.Action, e.Reason)
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// PolicyAuthorizer adapts a PolicyEngine to Authorizer.
type PolicyAuthorizer struct {
	Engine *PolicyEngine
}

// Name returns "policy".
func (a PolicyAuthorizer) Name() string { return "policy" }

// Authorize returns an *AuthzError if the engine denies req.
func (a PolicyAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	d := a.Engine.Authorize(req.Subject, req.OwnerID, req.Action)
	if d.Allowed {
		return nil
	}
	subject := ""
	if req.Subject != nil {
		subject = req.Subject.UserID
	}
	return &AuthzError{Subject: subject, OwnerID: req.OwnerID, Action: req.Action, Reason: d.Reason}
}

// AuthorizerFunc is an adapter to allow use of ordinary functions as Authorizers.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

// Name returns "func" for function-based authorizers.
func (f AuthorizerFunc) Name() string {
	return "func"
}

var (
	_ Authorizer = PolicyAuthorizer{}
	_ Authorizer = AuthorizerFunc(nil)
)
