package store

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// AddExpr appends expr with its single %d replaced by the next placeholder number.
func (wb *whereBuilder) AddExpr(expr string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf(expr, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// NextArg returns the placeholder number the next argument will take.
func (wb *whereBuilder) NextArg() int {
	return wb.argIndex
}

// Build returns the WHERE clause (with leading space) and its arguments.
// Both are empty when no condition was added.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}
