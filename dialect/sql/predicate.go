package sql

// EQ returns a "=" predicate.
func EQ(col string, v any) Predicate {
	return binary(col, " = ", v)
}

// NEQ returns a "<>" predicate.
func NEQ(col string, v any) Predicate {
	return binary(col, " <> ", v)
}

// GT returns a ">" predicate.
func GT(col string, v any) Predicate {
	return binary(col, " > ", v)
}

// GTE returns a ">=" predicate.
func GTE(col string, v any) Predicate {
	return binary(col, " >= ", v)
}

// LT returns a "<" predicate.
func LT(col string, v any) Predicate {
	return binary(col, " < ", v)
}

// LTE returns a "<=" predicate.
func LTE(col string, v any) Predicate {
	return binary(col, " <= ", v)
}

// In returns the `IN` predicate. An empty list matches nothing.
func In(col string, args ...any) Predicate {
	return func(b *Builder) {
		if len(args) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(args...).WriteString(")")
	}
}

// IsNull returns the `IS NULL` predicate.
func IsNull(col string) Predicate {
	return func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	}
}

// NotNull returns the `IS NOT NULL` predicate.
func NotNull(col string) Predicate {
	return func(b *Builder) {
		b.Ident(col).WriteString(" IS NOT NULL")
	}
}

// Contains returns a `LIKE '%sub%'` predicate. Pattern characters in sub
// are not escaped.
func Contains(col, sub string) Predicate {
	return binary(col, " LIKE ", "%"+sub+"%")
}

// HasPrefix returns a `LIKE 'prefix%'` predicate.
func HasPrefix(col, prefix string) Predicate {
	return binary(col, " LIKE ", prefix+"%")
}

// And combines all given predicates with AND between them.
func And(preds ...Predicate) Predicate {
	return join(" AND ", preds)
}

// Or combines all given predicates with OR between them.
func Or(preds ...Predicate) Predicate {
	return join(" OR ", preds)
}

// Not wraps the given predicate with the not predicate.
func Not(pred Predicate) Predicate {
	return func(b *Builder) {
		b.WriteString("NOT (")
		pred(b)
		b.WriteString(")")
	}
}

func binary(col, op string, v any) Predicate {
	return func(b *Builder) {
		b.Ident(col).WriteString(op).Arg(v)
	}
}

func join(op string, preds []Predicate) Predicate {
	return func(b *Builder) {
		b.WriteString("(")
		for i, p := range preds {
			if i > 0 {
				b.WriteString(op)
			}
			p(b)
		}
		b.WriteString(")")
	}
}

// Field is a typed column reference. Declaring fields once per entity makes
// predicates compile-time checked against the column's Go type.
//
//	var Age = sql.Field[int]("age")
//	repo.FindBy(ctx, Age.GT(18))
type Field[V any] string

// Name returns the column name.
func (f Field[V]) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f Field[V]) EQ(v V) Predicate { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f Field[V]) NEQ(v V) Predicate { return NEQ(string(f), v) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f Field[V]) GT(v V) Predicate { return GT(string(f), v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f Field[V]) GTE(v V) Predicate { return GTE(string(f), v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f Field[V]) LT(v V) Predicate { return LT(string(f), v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f Field[V]) LTE(v V) Predicate { return LTE(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f Field[V]) In(vs ...V) Predicate {
	args := make([]any, len(vs))
	for i := range vs {
		args[i] = vs[i]
	}
	return In(string(f), args...)
}

// IsNull returns a predicate that checks if the field is NULL.
func (f Field[V]) IsNull() Predicate { return IsNull(string(f)) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f Field[V]) NotNull() Predicate { return NotNull(string(f)) }

// StringField is a typed string column with pattern predicates.
type StringField string

// Name returns the column name.
func (f StringField) Name() string { return string(f) }

// EQ returns a predicate that checks if the field equals the given value.
func (f StringField) EQ(v string) Predicate { return EQ(string(f), v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f StringField) NEQ(v string) Predicate { return NEQ(string(f), v) }

// In returns a predicate that checks if the field value is in the given list.
func (f StringField) In(vs ...string) Predicate { return Field[string](f).In(vs...) }

// Contains returns a predicate that checks if the field contains the given substring.
func (f StringField) Contains(v string) Predicate { return Contains(string(f), v) }

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) Predicate { return HasPrefix(string(f), v) }
