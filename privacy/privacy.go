package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/session"
)

// Policy decision sentinel errors.
//
// Rules return one of these, possibly wrapped, to steer the evaluation:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow ends the evaluation of a change with an allow decision.
	Allow = errors.New("privacy: allow rule")

	// Deny ends the evaluation of a change and fails the save.
	Deny = errors.New("privacy: deny rule")

	// Skip passes the change to the next rule.
	Skip = errors.New("privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Change is a pending write under evaluation.
type Change struct {
	Entry *session.Entry
	State datakit.State
}

// Value returns the value of the named property the change writes. For
// deletions it is the value stored before the save.
func (c Change) Value(name string) (any, bool) {
	if c.State == datakit.Deleted {
		return c.Entry.OriginalValue(name)
	}
	return c.Entry.CurrentValue(name)
}

// Rule decides whether a change may be saved.
type Rule interface {
	Eval(context.Context, Change) error
}

// RuleFunc type is an adapter which allows the use of ordinary functions as
// rules.
type RuleFunc func(context.Context, Change) error

// Eval returns f(ctx, c).
func (f RuleFunc) Eval(ctx context.Context, c Change) error {
	return f(ctx, c)
}

// Policy is an ordered list of rules. The first rule returning Allow or
// Deny decides; a change no rule decides on is allowed.
type Policy []Rule

// Eval evaluates the policy for c. A decision attached to ctx with
// DecisionContext takes precedence over the rules.
func (p Policy) Eval(ctx context.Context, c Change) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.Eval(ctx, c); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Hook returns a session hook that evaluates p for every pending change
// before anything is written. A denied change fails the whole save.
//
//	s.Use(privacy.Hook(privacy.Policy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.IsOwner("OwnerID"),
//		privacy.AlwaysDenyRule(),
//	}))
func Hook(p Policy) session.Hook {
	return func(next session.Saver) session.Saver {
		return session.SaverFunc(func(ctx context.Context, w *session.SaveContext) error {
			for _, e := range w.Entries() {
				c := Change{Entry: e, State: w.State(e)}
				if err := p.Eval(ctx, c); err != nil {
					return fmt.Errorf("privacy: %s %s: %w", c.State, e.Table().Type.Name(), err)
				}
			}
			return next.Save(ctx, w)
		})
	}
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a context evaluation function. Returning
// nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ Change) error {
		return eval(ctx)
	})
}

// OnState evaluates rule only for changes in one of the given states.
func OnState(rule Rule, states datakit.State) Rule {
	return RuleFunc(func(ctx context.Context, c Change) error {
		if c.State.Is(states) {
			return rule.Eval(ctx, c)
		}
		return Skip
	})
}

// OnType evaluates rule only for entities of type T.
func OnType[T any](rule Rule) Rule {
	return RuleFunc(func(ctx context.Context, c Change) error {
		if _, ok := c.Entry.Entity().(*T); ok {
			return rule.Eval(ctx, c)
		}
		return Skip
	})
}

// DenyStateRule returns a rule denying changes in the given states.
func DenyStateRule(states datakit.State) Rule {
	rule := RuleFunc(func(_ context.Context, c Change) error {
		return Denyf("privacy: %s is not allowed", c.State)
	})
	return OnState(rule, states)
}

// AllowStateRule returns a rule allowing changes in the given states.
func AllowStateRule(states datakit.State) Rule {
	return OnState(fixedDecision{Allow}, states)
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) Eval(context.Context, Change) error {
	return f.decision
}
