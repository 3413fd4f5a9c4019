package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/privacy"
)

func TestViewerContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, privacy.ViewerFromContext(ctx))
	v := &privacy.SimpleViewer{UserID: "1", Roles: []string{"admin"}, TenantID: "acme"}
	got := privacy.ViewerFromContext(privacy.WithViewer(ctx, v))
	assert.Equal(t, "1", got.GetID())
	assert.Equal(t, []string{"admin"}, got.GetRoles())
	assert.Equal(t, "acme", got.GetTenantID())
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	viewer := func(v *privacy.SimpleViewer) context.Context {
		return privacy.WithViewer(ctx, v)
	}
	owned := change(t, &Document{ID: 1, OwnerID: "7", TenantID: "acme"}, datakit.Modified)
	foreign := change(t, &Document{ID: 2, OwnerID: "8", TenantID: "other"}, datakit.Deleted)
	untenanted := change(t, &Document{ID: 3}, datakit.Added)

	tests := []struct {
		name string
		rule privacy.Rule
		ctx  context.Context
		c    privacy.Change
		want error
	}{
		{name: "no viewer denied", rule: privacy.DenyIfNoViewer(), ctx: ctx, c: owned, want: privacy.Deny},
		{name: "viewer passes", rule: privacy.DenyIfNoViewer(), ctx: viewer(&privacy.SimpleViewer{UserID: "7"}), c: owned, want: privacy.Skip},
		{name: "role", rule: privacy.HasRole("admin"), ctx: viewer(&privacy.SimpleViewer{Roles: []string{"admin"}}), c: owned, want: privacy.Allow},
		{name: "role missing", rule: privacy.HasRole("admin"), ctx: viewer(&privacy.SimpleViewer{Roles: []string{"user"}}), c: owned, want: privacy.Skip},
		{name: "role no viewer", rule: privacy.HasRole("admin"), ctx: ctx, c: owned, want: privacy.Skip},
		{name: "any role", rule: privacy.HasAnyRole("admin", "editor"), ctx: viewer(&privacy.SimpleViewer{Roles: []string{"editor"}}), c: owned, want: privacy.Allow},
		{name: "owner", rule: privacy.IsOwner("OwnerID"), ctx: viewer(&privacy.SimpleViewer{UserID: "7"}), c: owned, want: privacy.Allow},
		{name: "owner by column", rule: privacy.IsOwner("owner_id"), ctx: viewer(&privacy.SimpleViewer{UserID: "7"}), c: owned, want: privacy.Allow},
		{name: "not owner", rule: privacy.IsOwner("OwnerID"), ctx: viewer(&privacy.SimpleViewer{UserID: "7"}), c: foreign, want: privacy.Skip},
		{name: "owner by key", rule: privacy.IsOwner("ID"), ctx: viewer(&privacy.SimpleViewer{UserID: "2"}), c: foreign, want: privacy.Allow},
		{name: "owner unknown property", rule: privacy.IsOwner("Missing"), ctx: viewer(&privacy.SimpleViewer{UserID: "7"}), c: owned, want: privacy.Skip},
		{name: "tenant", rule: privacy.TenantRule("TenantID"), ctx: viewer(&privacy.SimpleViewer{TenantID: "acme"}), c: owned, want: privacy.Allow},
		{name: "tenant mismatch", rule: privacy.TenantRule("TenantID"), ctx: viewer(&privacy.SimpleViewer{TenantID: "acme"}), c: foreign, want: privacy.Deny},
		{name: "tenant empty value", rule: privacy.TenantRule("TenantID"), ctx: viewer(&privacy.SimpleViewer{TenantID: "acme"}), c: untenanted, want: privacy.Deny},
		{name: "viewer without tenant", rule: privacy.TenantRule("TenantID"), ctx: viewer(&privacy.SimpleViewer{}), c: foreign, want: privacy.Skip},
		{name: "deny state", rule: privacy.DenyStateRule(datakit.Deleted | datakit.Modified), ctx: ctx, c: owned, want: privacy.Deny},
		{name: "deny state other", rule: privacy.DenyStateRule(datakit.Deleted), ctx: ctx, c: untenanted, want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.rule.Eval(tt.ctx, tt.c), tt.want)
		})
	}
}
