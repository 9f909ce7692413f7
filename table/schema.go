package table

import (
	"fmt"
	"strings"
)

// Type is a column type.
type Type int

const (
	Integer Type = iota + 1 // int32 on disk, int in memory
	Float                   // float64
	Varchar                 // length-prefixed UTF-8; Column.Length bounds it when > 0
	Decimal                 // decimal.Decimal, stored in its string form
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case Varchar:
		return "VARCHAR"
	case Decimal:
		return "DECIMAL"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

type Column struct {
	Name   string
	Type   Type
	Length int
}

func (c Column) String() string {
	if c.Type == Varchar && c.Length > 0 {
		return fmt.Sprintf("%s VARCHAR(%d)", c.Name, c.Length)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Schema names a table and its columns in storage order.
type Schema struct {
	Table   string
	Columns []Column
}

// ColumnIndex returns the position of the named column, or -1. Names compare case-insensitively.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) String() string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", s.Table, strings.Join(cols, ", "))
}
