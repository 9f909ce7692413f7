package executor_test

import (
	"testing"

	"crashdb/buffer"
	"crashdb/executor"
	"crashdb/file"
	"crashdb/log"
	"crashdb/table"
	"crashdb/tx"
	"crashdb/tx/concurrency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	txm  *tx.Manager
	exec *executor.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fm, err := file.NewManager(t.TempDir(), 400)
	require.NoError(t, err)
	lm, err := log.NewManager(fm, "crashdb.log")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = lm.Close()
		_ = fm.Close()
	})
	bm := buffer.NewManager(fm, lm, 16)
	return &fixture{
		txm:  tx.NewManager(fm, lm, bm, concurrency.NewLockTable()),
		exec: executor.New(table.NewCatalog()),
	}
}

// run executes sql in its own committed transaction.
func (f *fixture) run(t *testing.T, sql string) (*executor.Result, error) {
	t.Helper()
	txn := f.txm.Begin()
	res, err := f.exec.Execute(txn, sql)
	if err != nil {
		require.NoError(t, txn.Rollback())
		return nil, err
	}
	require.NoError(t, txn.Commit())
	return res, nil
}

func (f *fixture) mustRun(t *testing.T, sql string) *executor.Result {
	t.Helper()
	res, err := f.run(t, sql)
	require.NoError(t, err, sql)
	return res
}

func TestCreateInsertSelect(t *testing.T) {
	f := newFixture(t)

	res := f.mustRun(t, "CREATE TABLE testwal (a INTEGER, b VARCHAR(30), c FLOAT);")
	assert.Equal(t, "CREATE TABLE", res.Tag)

	res = f.mustRun(t, "INSERT INTO testwal VALUES (1, 'abc', 1.2), (2, 'defghi', -3.6);")
	assert.Equal(t, 2, res.Affected)
	f.mustRun(t, "INSERT INTO testwal VALUES (-1, 'zxywvu', 78)")

	res = f.mustRun(t, "SELECT * FROM testwal")
	assert.Equal(t, []string{"a", "b", "c"}, res.Columns)
	assert.Equal(t, [][]any{
		{1, "abc", 1.2},
		{2, "defghi", -3.6},
		{-1, "zxywvu", 78.0},
	}, res.Rows)

	res = f.mustRun(t, "select c, a as id from TESTWAL")
	assert.Equal(t, []string{"c", "id"}, res.Columns)
	assert.Equal(t, []any{1.2, 1}, res.Rows[0])
}

func TestInsertWithColumnList(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "CREATE TABLE accounts (id INT, owner TEXT, balance DECIMAL(10,2))")
	f.mustRun(t, "INSERT INTO accounts (balance, id) VALUES ('19.99', 7), (-2.5, 8)")
	f.mustRun(t, "INSERT INTO accounts VALUES (9, NULL, 0)")

	res := f.mustRun(t, "SELECT id, owner, balance FROM accounts")
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 7, res.Rows[0][0])
	assert.Nil(t, res.Rows[0][1])
	assert.True(t, decimal.New(1999, -2).Equal(res.Rows[0][2].(decimal.Decimal)))
	assert.Equal(t, "-2.5", executor.FormatValue(res.Rows[1][2]))
	assert.Equal(t, "NULL", executor.FormatValue(res.Rows[2][1]))
}

func TestBadStatementsWriteNothing(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "CREATE TABLE t (a INTEGER, b VARCHAR(3))")

	cases := map[string]string{
		"syntax":          "SELEC * FROM t",
		"unknown table":   "SELECT * FROM missing",
		"unknown column":  "SELECT z FROM t",
		"type mismatch":   "INSERT INTO t VALUES ('x', 'y')",
		"too long":        "INSERT INTO t VALUES (1, 'abcd')",
		"out of range":    "INSERT INTO t VALUES (3000000000, 'a')",
		"arity":           "INSERT INTO t VALUES (1)",
		"second row bad":  "INSERT INTO t VALUES (1, 'a'), (2, 2)",
		"duplicate table": "CREATE TABLE T (x INT)",
	}
	for name, sql := range cases {
		t.Run(name, func(t *testing.T) {
			txn := f.txm.Begin()
			_, err := f.exec.Execute(txn, sql)
			assert.Error(t, err)
			assert.Zero(t, txn.LastLSN(), "nothing logged")
			require.NoError(t, txn.Rollback())
		})
	}

	res := f.mustRun(t, "SELECT * FROM t")
	assert.Empty(t, res.Rows)
}

func TestUnsupportedStatements(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "CREATE TABLE t (a INTEGER)")

	for _, sql := range []string{
		"SELECT * FROM t WHERE a = 1",
		"SELECT * FROM t ORDER BY a",
		"UPDATE t SET a = 2",
		"DELETE FROM t",
		"DROP TABLE t",
		"CREATE TABLE blobs (b BLOB)",
		"SELECT a + 1 FROM t",
	} {
		_, err := f.run(t, sql)
		assert.ErrorIs(t, err, executor.ErrUnsupported, sql)
	}
}

func TestShowTables(t *testing.T) {
	f := newFixture(t)
	f.mustRun(t, "CREATE TABLE b (x INT)")
	f.mustRun(t, "CREATE TABLE a (x INT)")

	res := f.mustRun(t, "SHOW TABLES")
	assert.Equal(t, [][]any{{"a"}, {"b"}}, res.Rows)
}

func TestTableErrorsAreSentinels(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "INSERT INTO nowhere VALUES (1)")
	assert.ErrorIs(t, err, table.ErrNoSuchTable)

	f.mustRun(t, "CREATE TABLE t (a INT)")
	_, err = f.run(t, "CREATE TABLE t (a INT)")
	assert.ErrorIs(t, err, table.ErrTableExists)
}
