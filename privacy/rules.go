package privacy

import (
	"context"
	"fmt"
	"slices"
)

// Viewer represents the authenticated user making a request.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or "" when not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string {
	return v.UserID
}

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string {
	return v.Roles
}

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string {
	return v.TenantID
}

// DenyIfNoViewer returns a rule that denies every change when the context
// carries no viewer. It usually comes first in a policy.
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows changes made by a viewer with role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows changes made by a viewer with any
// of roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerRoles := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(viewerRoles, role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a rule that allows a change when the named property holds
// the viewer's ID.
//
//	privacy.Policy{
//		privacy.DenyIfNoViewer(),
//		privacy.IsOwner("OwnerID"),
//		privacy.AlwaysDenyRule(),
//	}
func IsOwner(property string) Rule {
	return RuleFunc(func(ctx context.Context, c Change) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if id, ok := stringValue(c, property); ok && id == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule returns a rule for multi-tenant isolation: a change whose
// property holds the viewer's tenant is allowed, any other is denied.
// Viewers without a tenant are skipped.
func TenantRule(property string) Rule {
	return RuleFunc(func(ctx context.Context, c Change) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		tenant, ok := stringValue(c, property)
		if !ok {
			return Skip
		}
		if tenant == viewer.GetTenantID() {
			return Allow
		}
		return Denyf("privacy: tenant mismatch")
	})
}

func stringValue(c Change, property string) (string, bool) {
	v, ok := c.Value(property)
	if !ok || v == nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	default:
		return fmt.Sprint(v), true
	}
}
