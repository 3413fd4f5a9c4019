package schema

import (
	"fmt"
	"strings"

	entity "github.com/syssam/datakit/schema"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, errs []*ValidationError) {
		if len(errs) == 0 {
			return
		}
		sb.WriteString(title)
		for _, e := range errs {
			sb.WriteString("\n  - ")
			sb.WriteString(e.Error())
		}
		sb.WriteString("\n")
	}
	write("Errors:", r.Errors)
	write("Warnings:", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// ValidateTable validates a single table definition.
func ValidateTable(t *entity.Table) *ValidationResult {
	result := &ValidationResult{}
	if t.Key == nil {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   t.Name,
			Message: "table has no primary key",
		})
	} else if t.Key.Nullable {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   t.Name,
			Column:  t.Key.Name,
			Message: "primary key must not be nullable",
		})
	}
	if t.Version == nil {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   t.Name,
			Message: "table has no version column; concurrent updates are not detected",
		})
	} else if t.Version.Nullable {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   t.Name,
			Column:  t.Version.Name,
			Message: "version column must not be nullable",
		})
	}
	for _, c := range t.Columns {
		if c.Auto && !c.Key {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "auto is ignored on non-key columns",
			})
		}
	}
	return result
}

// ValidateSchema validates all tables in a schema.
func ValidateSchema(tables []*entity.Table) *ValidationResult {
	result := &ValidationResult{}
	tableNames := make(map[string]bool)
	for _, t := range tables {
		if t == nil {
			result.Errors = append(result.Errors, &ValidationError{Table: "<nil>", Message: "nil table"})
			continue
		}
		if tableNames[t.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: "duplicate table name",
			})
		}
		tableNames[t.Name] = true

		tableResult := ValidateTable(t)
		result.Errors = append(result.Errors, tableResult.Errors...)
		result.Warnings = append(result.Warnings, tableResult.Warnings...)
	}
	return result
}
