package store

import (
	"fmt"
	"strconv"
	"strings"
)

type Column string

const (
	ColumnID      Column = "ID"
	ColumnCreated Column = "created"
	ColumnUpdated Column = "updated"
)

type Op string

const (
	OpEq Op = "="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Filter is a single comparison on one column. The zero Filter matches every row.
type Filter struct {
	Column Column
	Op     Op
	Value  any
}

// All matches every row.
func All() Filter { return Filter{} }

// ByID matches the row with the given id.
func ByID(id string) Filter { return Filter{Column: ColumnID, Op: OpEq, Value: id} }

// UpdatedBefore matches rows whose updated timestamp is strictly below ms.
func UpdatedBefore(ms int64) Filter { return Filter{Column: ColumnUpdated, Op: OpLt, Value: ms} }

// IsAll reports whether f matches every row.
func (f Filter) IsAll() bool { return f.Column == "" }

func (f Filter) Validate() error {
	if f.IsAll() {
		return nil
	}
	switch f.Op {
	case OpEq, OpLt, OpLe, OpGt, OpGe:
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Op)
	}
	switch f.Column {
	case ColumnID:
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("filter on %s needs a string value, got %T", f.Column, f.Value)
		}
	case ColumnCreated, ColumnUpdated:
		if _, ok := toInt64(f.Value); !ok {
			return fmt.Errorf("filter on %s needs an integer value, got %T", f.Column, f.Value)
		}
	default:
		return fmt.Errorf("unknown column %q", f.Column)
	}
	return nil
}

// Match evaluates f against rec in memory.
func (f Filter) Match(rec Record) bool {
	if f.IsAll() {
		return true
	}
	var c int
	switch f.Column {
	case ColumnID:
		s, _ := f.Value.(string)
		c = strings.Compare(rec.ID, s)
	case ColumnCreated, ColumnUpdated:
		v, _ := toInt64(f.Value)
		field := rec.Created
		if f.Column == ColumnUpdated {
			field = rec.Updated
		}
		switch {
		case field < v:
			c = -1
		case field > v:
			c = 1
		}
	default:
		return false
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// String renders the filter in its human form, e.g. ID = 'abc'.
func (f Filter) String() string {
	if f.IsAll() {
		return "INCLUDE"
	}
	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%s %s '%s'", f.Column, f.Op, strings.ReplaceAll(v, "'", "''"))
	default:
		n, _ := toInt64(v)
		return fmt.Sprintf("%s %s %s", f.Column, f.Op, strconv.FormatInt(n, 10))
	}
}

// where renders a parameterized WHERE clause. next yields the placeholder for
// the argument it is given.
func (f Filter) where(next func() string) (string, []any) {
	if f.IsAll() {
		return "", nil
	}
	v := f.Value
	if n, ok := toInt64(v); ok {
		v = n
	}
	return fmt.Sprintf(" WHERE %s %s %s", f.Column, f.Op, next()), []any{v}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}
