package session

import "github.com/syssam/datakit"

// Resolution is the outcome a Strategy picks for a conflict.
type Resolution int

// Conflict resolutions.
const (
	// Rethrow surfaces the conflict as a *datakit.ConcurrencyError.
	Rethrow Resolution = iota
	// ClientWins keeps the in-memory values and overwrites the row.
	ClientWins
	// DatabaseWins discards the in-memory changes and reloads the row.
	DatabaseWins
)

func (r Resolution) String() string {
	switch r {
	case ClientWins:
		return "ClientWins"
	case DatabaseWins:
		return "DatabaseWins"
	default:
		return "Rethrow"
	}
}

// Conflict describes a row that changed in the database after it was loaded.
// Values are keyed by Go field name.
type Conflict struct {
	Entity         any
	State          datakit.State
	ClientValues   map[string]any
	DatabaseValues map[string]any
}

// Strategy decides how a concurrency conflict is resolved.
type Strategy interface {
	Resolve(*Conflict) Resolution
}

// The StrategyFunc type is an adapter to allow the use of ordinary
// functions as Strategy.
type StrategyFunc func(*Conflict) Resolution

// Resolve calls f(c).
func (f StrategyFunc) Resolve(c *Conflict) Resolution { return f(c) }

// Built-in strategies.
var (
	ClientWinsStrategy   Strategy = StrategyFunc(func(*Conflict) Resolution { return ClientWins })
	DatabaseWinsStrategy Strategy = StrategyFunc(func(*Conflict) Resolution { return DatabaseWins })
	RethrowStrategy      Strategy = StrategyFunc(func(*Conflict) Resolution { return Rethrow })
)
