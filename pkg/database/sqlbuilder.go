package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

// Upsert builds INSERT ... ON CONFLICT (conflict) DO UPDATE SET col = EXCLUDED.col.
func Upsert(table string, conflict []string, update []string, cols []string, values ...any) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	ib.Values(values...)

	assignments := make([]string, len(update))
	for i, col := range update {
		assignments[i] = Excluded(col)
	}
	if len(assignments) == 0 {
		ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", ")))
	} else {
		ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(assignments, ", ")))
	}
	return ib.Build()
}
