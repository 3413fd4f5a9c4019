// Package privacy authorizes session saves with ordered rule policies.
//
// A policy is evaluated for every pending change before anything is
// written. Each rule returns one of three decisions:
//
//   - Allow: the change is permitted and evaluation stops
//   - Deny: the save fails and nothing is written
//   - Skip (or nil): the next rule decides
//
// A change no rule decides on is allowed, so policies that must fail closed
// end with AlwaysDenyRule:
//
//	s.Use(privacy.Hook(privacy.Policy{
//		privacy.DenyIfNoViewer(),
//		privacy.DenyStateRule(datakit.Deleted),
//		privacy.HasRole("admin"),
//		privacy.OnType[Order](privacy.IsOwner("CustomerID")),
//		privacy.AlwaysDenyRule(),
//	}))
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "42"})
//	cs, err := s.SaveChanges(ctx)
//
// Trusted code paths such as seeding can bypass the rules:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
