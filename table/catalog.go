package table

import (
	"sort"
	"strings"

	"crashdb/tx"

	"github.com/pkg/errors"
)

var (
	ErrNoSuchTable = errors.New("no such table")
	ErrTableExists = errors.New("table already exists")
)

const reservedPrefix = "__"

var (
	tablesSchema = &Schema{Table: reservedPrefix + "tables", Columns: []Column{
		{Name: "name", Type: Varchar},
	}}
	columnsSchema = &Schema{Table: reservedPrefix + "columns", Columns: []Column{
		{Name: "table_name", Type: Varchar},
		{Name: "position", Type: Integer},
		{Name: "name", Type: Varchar},
		{Name: "type", Type: Integer},
		{Name: "length", Type: Integer},
	}}
)

// Catalog keeps table schemas in two heap tables of its own, written through the caller's transaction.
// A CREATE TABLE that is rolled back, or lost in a crash before commit, leaves no trace in the catalog.
// Nothing is cached: every lookup scans the catalog heaps under the caller's transaction.
type Catalog struct {
	tables  *Heap
	columns *Heap
}

func NewCatalog() *Catalog {
	return &Catalog{tables: OpenHeap(tablesSchema), columns: OpenHeap(columnsSchema)}
}

// CreateTable records schema. Table and column names are stored as given; lookups ignore case.
func (c *Catalog) CreateTable(txn *tx.Transaction, schema *Schema) error {
	if schema.Table == "" || strings.HasPrefix(schema.Table, reservedPrefix) {
		return errors.Errorf("invalid table name %q", schema.Table)
	}
	if len(schema.Columns) == 0 {
		return errors.Errorf("table %s has no columns", schema.Table)
	}
	seen := make(map[string]bool, len(schema.Columns))
	for _, col := range schema.Columns {
		key := strings.ToLower(col.Name)
		if seen[key] {
			return errors.Errorf("duplicate column %s in table %s", col.Name, schema.Table)
		}
		seen[key] = true
	}
	if _, err := c.find(txn, schema.Table); err == nil {
		return errors.Wrap(ErrTableExists, schema.Table)
	} else if !errors.Is(err, ErrNoSuchTable) {
		return err
	}

	if _, err := c.tables.Insert(txn, []any{schema.Table}); err != nil {
		return err
	}
	for i, col := range schema.Columns {
		row := []any{schema.Table, i, col.Name, int(col.Type), col.Length}
		if _, err := c.columns.Insert(txn, row); err != nil {
			return err
		}
	}
	return nil
}

// find returns the stored spelling of a table name.
func (c *Catalog) find(txn *tx.Transaction, name string) (string, error) {
	var found string
	err := c.tables.Scan(txn, func(_ RID, row []any) error {
		if stored := row[0].(string); strings.EqualFold(stored, name) {
			found = stored
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return "", err
	}
	if found == "" {
		return "", errors.Wrap(ErrNoSuchTable, name)
	}
	return found, nil
}

// Lookup returns the schema of the named table.
func (c *Catalog) Lookup(txn *tx.Transaction, name string) (*Schema, error) {
	stored, err := c.find(txn, name)
	if err != nil {
		return nil, err
	}
	type positioned struct {
		pos int
		col Column
	}
	var cols []positioned
	err = c.columns.Scan(txn, func(_ RID, row []any) error {
		if row[0].(string) != stored {
			return nil
		}
		cols = append(cols, positioned{
			pos: row[1].(int),
			col: Column{Name: row[2].(string), Type: Type(row[3].(int)), Length: row[4].(int)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].pos < cols[j].pos })
	schema := &Schema{Table: stored, Columns: make([]Column, len(cols))}
	for i, pc := range cols {
		schema.Columns[i] = pc.col
	}
	return schema, nil
}

// Open looks up a table and returns its heap.
func (c *Catalog) Open(txn *tx.Transaction, name string) (*Heap, error) {
	schema, err := c.Lookup(txn, name)
	if err != nil {
		return nil, err
	}
	return OpenHeap(schema), nil
}

// TableNames lists user tables in name order.
func (c *Catalog) TableNames(txn *tx.Transaction) ([]string, error) {
	var names []string
	err := c.tables.Scan(txn, func(_ RID, row []any) error {
		names = append(names, row[0].(string))
		return nil
	})
	sort.Strings(names)
	return names, err
}
