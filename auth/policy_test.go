package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func user(id string, roles ...string) *Identity {
	return &Identity{UserID: id, Roles: roles, Method: AuthMethodJWT}
}

func TestPolicyEngine_DefaultRoles(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{})

	tests := []struct {
		name   string
		id     *Identity
		owner  string
		action Action
		want   bool
	}{
		{"author updates own post", user("42", "author"), "42", ActionUpdate, true},
		{"author updates foreign post", user("42", "author"), "7", ActionUpdate, false},
		{"author deletes foreign post", user("42", "author"), "7", ActionDelete, false},
		{"author publishes own post", user("42", "author"), "42", ActionPublish, true},
		{"author reads foreign post", user("42", "author"), "7", ActionRead, false},
		{"author reads own post", user("42", "author"), "42", ActionRead, true},
		{"author creates", user("42", "author"), "", ActionCreate, true},
		{"author creates for someone else", user("42", "author"), "7", ActionCreate, false},
		{"administrator deletes anything", user("1", "administrator"), "7", ActionDelete, true},
		{"editor publishes foreign post", user("2", "editor"), "7", ActionPublish, true},
		{"contributor cannot publish own", user("3", "contributor"), "3", ActionPublish, false},
		{"contributor updates own", user("3", "contributor"), "3", ActionUpdate, true},
		{"subscriber reads", user("4", "subscriber"), "7", ActionRead, true},
		{"subscriber cannot create", user("4", "subscriber"), "", ActionCreate, false},
		{"anonymous reads nothing", AnonymousIdentity(), "7", ActionRead, false},
		{"unknown role", user("5", "ghost"), "5", ActionRead, false},
		{"no roles", user("5"), "5", ActionRead, false},
		{"union of roles", user("6", "subscriber", "editor"), "7", ActionDelete, true},
		{"author and subscriber read foreign post", user("6", "author", "subscriber"), "7", ActionRead, true},
		{"unknown action", user("1", "administrator"), "", Action("approve"), false},
		{"nil identity", nil, "", ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Authorize(tt.id, tt.owner, tt.action)
			if d.Allowed != tt.want {
				t.Errorf("Allowed = %v, want %v (decision %+v)", d.Allowed, tt.want, d)
			}
			if !d.Allowed && d.Reason == "" {
				t.Errorf("denial without a reason")
			}
		})
	}
}

func TestPolicyEngine_ReportsGrantingRole(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{})
	d := engine.Authorize(user("42", "author", "editor"), "7", ActionUpdate)
	if !d.Allowed || d.Role != "editor" {
		t.Errorf("decision = %+v, want allowed by editor", d)
	}

	d = engine.Authorize(user("42", "author"), "7", ActionUpdate)
	if !strings.Contains(d.Reason, "own resources") {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestPolicyEngine_Scopes(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{})
	id := &Identity{UserID: "1", Roles: []string{"administrator"}, Scopes: []string{"read"}}

	if !engine.Authorize(id, "7", ActionRead).Allowed {
		t.Errorf("read scope denied read")
	}
	if engine.Authorize(id, "7", ActionDelete).Allowed {
		t.Errorf("read scope allowed delete")
	}

	id.Scopes = []string{"*"}
	if !engine.Authorize(id, "7", ActionDelete).Allowed {
		t.Errorf("wildcard scope denied delete")
	}

	// Scopes never widen a role.
	sub := &Identity{UserID: "4", Roles: []string{"subscriber"}, Scopes: []string{"delete"}}
	if engine.Authorize(sub, "4", ActionDelete).Allowed {
		t.Errorf("delete scope widened subscriber")
	}
}

func TestPolicyEngine_Overrides(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{RoleOverrides: map[string]RoleOverride{
		"author":     {Publish: boolPtr(false)},
		"subscriber": {Create: boolPtr(true)},
		"reviewer":   {Read: boolPtr(true), Update: boolPtr(true)},
	}})

	tests := []struct {
		name   string
		id     *Identity
		owner  string
		action Action
		want   bool
	}{
		{"author publish disabled", user("42", "author"), "42", ActionPublish, false},
		{"unset flags keep built-in values", user("42", "author"), "42", ActionUpdate, true},
		{"subscriber may create", user("4", "subscriber"), "", ActionCreate, true},
		{"new role updates", user("8", "reviewer"), "7", ActionUpdate, true},
		{"new role cannot delete", user("8", "reviewer"), "7", ActionDelete, false},
	}
	for _, tt := range tests {
		if got := engine.Authorize(tt.id, tt.owner, tt.action).Allowed; got != tt.want {
			t.Errorf("%s: Allowed = %v, want %v", tt.name, got, tt.want)
		}
	}

	p, ok := engine.Role("author")
	if !ok || !p.OwnOnly {
		t.Errorf("Role(author) = %+v, %v", p, ok)
	}
}

func TestPolicyEngine_OwnOnlyGatesReads(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{RoleOverrides: map[string]RoleOverride{
		"private_reader": {Read: boolPtr(true), OwnOnly: boolPtr(true)},
	}})
	reader := user("42", "private_reader")

	if d := engine.Authorize(reader, "7", ActionRead); d.Allowed {
		t.Errorf("foreign read allowed: %+v", d)
	}
	if d := engine.Authorize(reader, "42", ActionRead); !d.Allowed {
		t.Errorf("own read denied: %+v", d)
	}
	if d := engine.Authorize(reader, "", ActionRead); d.Allowed {
		t.Errorf("read without owner allowed: %+v", d)
	}
}

func TestPolicyEngine_DefaultDeny(t *testing.T) {
	engine := NewPolicyEngine(PolicyConfig{
		DefaultDeny: true,
		RoleOverrides: map[string]RoleOverride{
			"author": {Read: boolPtr(true), Update: boolPtr(true)},
		},
	})

	tests := []struct {
		name   string
		id     *Identity
		owner  string
		action Action
		want   bool
	}{
		{"built-in role without override", user("1", "administrator"), "7", ActionRead, false},
		{"override reads own", user("42", "author"), "42", ActionRead, true},
		{"override reads foreign", user("42", "author"), "7", ActionRead, false},
		{"override updates own", user("42", "author"), "42", ActionUpdate, true},
		{"own_only is inherited", user("42", "author"), "7", ActionUpdate, false},
		{"unset flag denies", user("42", "author"), "42", ActionDelete, false},
	}
	for _, tt := range tests {
		if got := engine.Authorize(tt.id, tt.owner, tt.action).Allowed; got != tt.want {
			t.Errorf("%s: Allowed = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		got, ok := ParseAction(string(a))
		if !ok || got != a {
			t.Errorf("ParseAction(%q) = %q, %v", a, got, ok)
		}
	}
	if _, ok := ParseAction("READ"); ok {
		t.Errorf("ParseAction(READ) ok, want case-sensitive match")
	}
}

func TestPolicyAuthorizer(t *testing.T) {
	authz := PolicyAuthorizer{Engine: NewPolicyEngine(PolicyConfig{})}
	if authz.Name() != "policy" {
		t.Errorf("Name() = %q", authz.Name())
	}

	err := authz.Authorize(context.Background(), &AuthzRequest{Subject: user("42", "author"), OwnerID: "42", Action: ActionUpdate})
	if err != nil {
		t.Fatalf("Authorize(own) error = %v", err)
	}

	err = authz.Authorize(context.Background(), &AuthzRequest{Subject: user("42", "author"), OwnerID: "7", Action: ActionDelete})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Authorize(foreign) error = %v, want ErrForbidden", err)
	}
	var ze *AuthzError
	if !errors.As(err, &ze) {
		t.Fatalf("error %T is not *AuthzError", err)
	}
	if ze.Subject != "42" || ze.Action != ActionDelete {
		t.Errorf("AuthzError = %+v", ze)
	}
	if KindOf(err) != KindForbidden || AsError(err).HTTPStatus() != 403 {
		t.Errorf("kind = %s, status = %d", KindOf(err), AsError(err).HTTPStatus())
	}

	err = authz.Authorize(context.Background(), &AuthzRequest{Action: ActionRead})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(no subject) error = %v, want ErrForbidden", err)
	}
}

func TestAuthorizerFunc(t *testing.T) {
	f := AuthorizerFunc(func(_ context.Context, req *AuthzRequest) error {
		if req.Action == ActionRead {
			return nil
		}
		return &AuthzError{Action: req.Action, Reason: "read only"}
	})
	if f.Name() != "func" {
		t.Errorf("Name() = %q", f.Name())
	}
	if err := f.Authorize(context.Background(), &AuthzRequest{Action: ActionRead}); err != nil {
		t.Errorf("Authorize(read) error = %v", err)
	}
	if err := f.Authorize(context.Background(), &AuthzRequest{Action: ActionUpdate}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(update) error = %v, want ErrForbidden", err)
	}
}
