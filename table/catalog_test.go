package table_test

import (
	"testing"

	"crashdb/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCreateAndLookup(t *testing.T) {
	txm := newTxManager(t, 400)
	catalog := table.NewCatalog()

	txn := txm.Begin()
	require.NoError(t, catalog.CreateTable(txn, people))
	require.NoError(t, txn.Commit())

	reader := txm.Begin()
	defer func() { require.NoError(t, reader.Commit()) }()

	schema, err := catalog.Lookup(reader, "PEOPLE")
	require.NoError(t, err)
	assert.Equal(t, people, schema)
	assert.Equal(t, 1, schema.ColumnIndex("Name"))
	assert.Equal(t, -1, schema.ColumnIndex("missing"))

	_, err = catalog.Lookup(reader, "nobody")
	assert.ErrorIs(t, err, table.ErrNoSuchTable)

	names, err := catalog.TableNames(reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, names)
}

func TestCatalogRejectsBadSchemas(t *testing.T) {
	txm := newTxManager(t, 400)
	catalog := table.NewCatalog()
	txn := txm.Begin()
	defer func() { require.NoError(t, txn.Rollback()) }()

	require.NoError(t, catalog.CreateTable(txn, people))
	assert.ErrorIs(t, catalog.CreateTable(txn, &table.Schema{Table: "People", Columns: people.Columns}), table.ErrTableExists)

	dup := &table.Schema{Table: "dup", Columns: []table.Column{{Name: "a", Type: table.Integer}, {Name: "A", Type: table.Float}}}
	assert.Error(t, catalog.CreateTable(txn, dup))
	assert.Error(t, catalog.CreateTable(txn, &table.Schema{Table: "empty"}))
	assert.Error(t, catalog.CreateTable(txn, &table.Schema{Table: "__tables", Columns: people.Columns}))
}

func TestRolledBackCreateLeavesNoTable(t *testing.T) {
	txm := newTxManager(t, 400)
	catalog := table.NewCatalog()

	txn := txm.Begin()
	require.NoError(t, catalog.CreateTable(txn, people))
	require.NoError(t, txn.Rollback())

	reader := txm.Begin()
	_, err := catalog.Lookup(reader, "people")
	assert.ErrorIs(t, err, table.ErrNoSuchTable)
	require.NoError(t, reader.Commit())
}
