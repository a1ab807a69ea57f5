package storage

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/turno/internal/model"
)

// setBuilder accumulates the SET clause of a partial UPDATE.
type setBuilder struct {
	cols []string
	args []any
}

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

// raw appends an expression that takes one argument, written as $%d.
func (b *setBuilder) raw(col, expr string, v any) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = "+expr, col, len(b.args)))
}

func (b *setBuilder) empty() bool { return len(b.cols) == 0 }

// sql returns "UPDATE table SET ... , updated_at = now() WHERE id = $n" with
// id appended to the arguments.
func (b *setBuilder) sql(table string, id any) (string, []any) {
	args := append(b.args, id)
	return fmt.Sprintf("UPDATE %s SET %s, updated_at = now() WHERE id = $%d",
		table, strings.Join(b.cols, ", "), len(args)), args
}

// setOpt writes an Opt field: a value, NULL when cleared, nothing when unspecified.
func setOpt[T any](b *setBuilder, col string, o model.Opt[T]) {
	if !o.Specified() {
		return
	}
	if v, ok := o.Get(); ok {
		b.add(col, v)
		return
	}
	b.add(col, nil)
}

// setText is setOpt for string-kinded enums, sent as plain text.
func setText[T ~string](b *setBuilder, col string, o model.Opt[T]) {
	if !o.Specified() {
		return
	}
	if v, ok := o.Get(); ok {
		b.add(col, string(v))
		return
	}
	b.add(col, nil)
}
