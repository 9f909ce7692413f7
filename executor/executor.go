package executor

import (
	"strings"

	"crashdb/table"
	"crashdb/tx"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// ErrUnsupported is returned for statements and clauses the executor does not implement.
var ErrUnsupported = errors.New("not supported")

// PartialWriteError reports a statement that failed after it had already changed pages. The
// transaction it ran in holds a partial statement and must be rolled back.
type PartialWriteError struct {
	Err error
}

func (e *PartialWriteError) Error() string { return e.Err.Error() }

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Result is what a statement produced. Columns is nil for statements that return no rows.
type Result struct {
	Tag      string
	Columns  []string
	Rows     [][]any
	Affected int
}

// Executor runs SQL statements against the catalog inside a caller-supplied transaction.
type Executor struct {
	catalog *table.Catalog
}

func New(catalog *table.Catalog) *Executor {
	return &Executor{catalog: catalog}
}

// Execute parses and runs one statement in txn. It never commits or rolls back txn.
func (e *Executor) Execute(txn *tx.Transaction, sql string) (*Result, error) {
	stmt, err := sqlparser.Parse(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if err != nil {
		return nil, errors.Wrap(err, "syntax error")
	}

	before := txn.LastLSN()
	var result *Result
	switch s := stmt.(type) {
	case *sqlparser.DDL:
		result, err = e.createTable(txn, s)
	case *sqlparser.Insert:
		result, err = e.insert(txn, s)
	case *sqlparser.Select:
		result, err = e.selectRows(txn, s)
	case *sqlparser.Show:
		result, err = e.show(txn, s)
	default:
		err = errors.Wrapf(ErrUnsupported, "statement %T", s)
	}
	if err != nil && txn.LastLSN() != before {
		return nil, &PartialWriteError{Err: err}
	}
	return result, err
}

func (e *Executor) createTable(txn *tx.Transaction, stmt *sqlparser.DDL) (*Result, error) {
	if stmt.Action != sqlparser.CreateStr {
		return nil, errors.Wrapf(ErrUnsupported, "%s", strings.ToUpper(stmt.Action))
	}
	name := stmt.NewName.Name.String()
	if name == "" {
		return nil, errors.New("table name is empty")
	}
	if stmt.TableSpec == nil || len(stmt.TableSpec.Columns) == 0 {
		return nil, errors.Errorf("table %s has no columns", name)
	}

	schema := &table.Schema{Table: name}
	for _, def := range stmt.TableSpec.Columns {
		col, err := mapColumn(def)
		if err != nil {
			return nil, err
		}
		schema.Columns = append(schema.Columns, col)
	}
	if err := e.catalog.CreateTable(txn, schema); err != nil {
		return nil, err
	}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func (e *Executor) insert(txn *tx.Transaction, stmt *sqlparser.Insert) (*Result, error) {
	if stmt.Action != sqlparser.InsertStr {
		return nil, errors.Wrapf(ErrUnsupported, "%s", strings.ToUpper(stmt.Action))
	}
	values, ok := stmt.Rows.(sqlparser.Values)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "INSERT from %T", stmt.Rows)
	}
	heap, err := e.catalog.Open(txn, stmt.Table.Name.String())
	if err != nil {
		return nil, err
	}
	schema := heap.Schema()

	// Target position of each supplied value.
	positions := make([]int, len(schema.Columns))
	for i := range positions {
		positions[i] = i
	}
	if len(stmt.Columns) > 0 {
		positions = positions[:0]
		for _, c := range stmt.Columns {
			idx := schema.ColumnIndex(c.String())
			if idx < 0 {
				return nil, errors.Errorf("table %s has no column %s", schema.Table, c.String())
			}
			positions = append(positions, idx)
		}
	}

	// Convert everything before writing anything, so a bad value never leaves a partial insert.
	rows := make([][]any, 0, len(values))
	for n, tuple := range values {
		if len(tuple) != len(positions) {
			return nil, errors.Errorf("row %d has %d values, expected %d", n+1, len(tuple), len(positions))
		}
		row := make([]any, len(schema.Columns))
		for i, expr := range tuple {
			col := schema.Columns[positions[i]]
			v, err := convert(col, expr)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d", n+1)
			}
			row[positions[i]] = v
		}
		rows = append(rows, row)
	}

	for _, row := range rows {
		if _, err := heap.Insert(txn, row); err != nil {
			return nil, err
		}
	}
	return &Result{Tag: "INSERT", Affected: len(rows)}, nil
}

func (e *Executor) selectRows(txn *tx.Transaction, stmt *sqlparser.Select) (*Result, error) {
	if stmt.Where != nil || stmt.Having != nil || len(stmt.GroupBy) > 0 || len(stmt.OrderBy) > 0 || stmt.Limit != nil || stmt.Distinct != "" {
		return nil, errors.Wrap(ErrUnsupported, "SELECT supports only a column list and one table")
	}
	if len(stmt.From) != 1 {
		return nil, errors.Wrapf(ErrUnsupported, "SELECT from %d tables", len(stmt.From))
	}
	name, err := tableName(stmt.From[0])
	if err != nil {
		return nil, err
	}
	heap, err := e.catalog.Open(txn, name)
	if err != nil {
		return nil, err
	}
	schema := heap.Schema()

	var projection []int
	var columns []string
	for _, expr := range stmt.SelectExprs {
		switch se := expr.(type) {
		case *sqlparser.StarExpr:
			for i, c := range schema.Columns {
				projection = append(projection, i)
				columns = append(columns, c.Name)
			}
		case *sqlparser.AliasedExpr:
			col, ok := se.Expr.(*sqlparser.ColName)
			if !ok {
				return nil, errors.Wrapf(ErrUnsupported, "select expression %s", sqlparser.String(se.Expr))
			}
			idx := schema.ColumnIndex(col.Name.String())
			if idx < 0 {
				return nil, errors.Errorf("table %s has no column %s", schema.Table, col.Name.String())
			}
			projection = append(projection, idx)
			label := schema.Columns[idx].Name
			if !se.As.IsEmpty() {
				label = se.As.String()
			}
			columns = append(columns, label)
		default:
			return nil, errors.Wrapf(ErrUnsupported, "select expression %T", se)
		}
	}

	result := &Result{Tag: "SELECT", Columns: columns, Rows: [][]any{}}
	err = heap.Scan(txn, func(_ table.RID, row []any) error {
		out := make([]any, len(projection))
		for i, idx := range projection {
			out[i] = row[idx]
		}
		result.Rows = append(result.Rows, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Affected = len(result.Rows)
	return result, nil
}

func (e *Executor) show(txn *tx.Transaction, stmt *sqlparser.Show) (*Result, error) {
	if !strings.EqualFold(stmt.Type, "tables") {
		return nil, errors.Wrapf(ErrUnsupported, "SHOW %s", strings.ToUpper(stmt.Type))
	}
	names, err := e.catalog.TableNames(txn)
	if err != nil {
		return nil, err
	}
	result := &Result{Tag: "SHOW", Columns: []string{"table"}, Rows: [][]any{}}
	for _, name := range names {
		result.Rows = append(result.Rows, []any{name})
	}
	result.Affected = len(names)
	return result, nil
}

func tableName(expr sqlparser.TableExpr) (string, error) {
	aliased, ok := expr.(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", errors.Wrapf(ErrUnsupported, "table expression %T", expr)
	}
	name, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", errors.Wrapf(ErrUnsupported, "table expression %T", aliased.Expr)
	}
	return name.Name.String(), nil
}
