package shell_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"crashdb/config"
	"crashdb/engine"
	"crashdb/shell"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t   *testing.T
	cfg config.Config
	db  *engine.DB
}

func newHarness(t *testing.T) *harness {
	cfg := config.Default()
	cfg.Dir = t.TempDir()
	cfg.BlockSize = 256
	cfg.PoolSize = 8
	h := &harness{t: t, cfg: cfg}
	h.open()
	t.Cleanup(func() {
		if h.db != nil {
			_ = h.db.Close()
		}
	})
	return h
}

func (h *harness) open() {
	db, err := engine.Open(h.cfg)
	require.NoError(h.t, err)
	h.db = db
}

// run feeds script to a fresh session. After CRASH the database is reopened, as a restarted process would.
func (h *harness) run(script string) (string, int) {
	var out bytes.Buffer
	code := 0
	err := shell.New(h.db, &out, func(c int) { code = c }).Run(strings.NewReader(script))
	if code != 0 {
		require.ErrorIs(h.t, err, shell.ErrCrashed)
		h.open()
	} else {
		require.NoError(h.t, err)
	}
	return out.String(), code
}

func (h *harness) rows(tableName string) [][]any {
	txn := h.db.Begin()
	res, err := h.db.Execute(txn, "SELECT * FROM "+tableName)
	require.NoError(h.t, err)
	require.NoError(h.t, txn.Commit())
	return res.Rows
}

const seed = `CREATE TABLE t (id INT, name VARCHAR(16));
INSERT INTO t VALUES (1, 'one');
INSERT INTO t VALUES (2, 'two');
`

var seeded = [][]any{{1, "one"}, {2, "two"}}

func TestAutoCommittedInsertsSurviveCrash(t *testing.T) {
	h := newHarness(t)
	out, code := h.run(seed + "CRASH\n")
	assert.Equal(t, 1, code)
	assert.Equal(t, "CREATE TABLE\nINSERT 1\nINSERT 1\n", out)
	assert.Equal(t, seeded, h.rows("t"))
	assert.Empty(t, h.db.RecoveryStats().Losers)
}

func TestUncommittedInsertVanishesAfterCrash(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, code := h.run("BEGIN;\nINSERT INTO t VALUES (3, 'three');\nCRASH;\n")
	assert.Equal(t, 1, code)
	assert.Equal(t, "BEGIN\nINSERT 1\n", out)
	assert.Equal(t, seeded, h.rows("t"))
}

func TestRolledBackInsertStaysGoneAfterCrash(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, _ := h.run("BEGIN\nINSERT INTO t VALUES (3, 'three');\nROLLBACK\nSELECT * FROM t;\nCRASH\n")
	assert.Equal(t, "BEGIN\nINSERT 1\nROLLBACK\nid | name\n---+-----\n1  | one\n2  | two\n(2 rows)\n", out)
	assert.Equal(t, seeded, h.rows("t"))
	assert.Empty(t, h.db.RecoveryStats().Losers)
}

func TestCommittedTransactionSurvivesCrash(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, _ := h.run("BEGIN;\nINSERT INTO t VALUES (3, 'three');\nSELECT name FROM t;\nCOMMIT;\nCRASH;\n")
	assert.Equal(t, "BEGIN\nINSERT 1\nname\n-----\none\ntwo\nthree\n(3 rows)\nCOMMIT\n", out)
	assert.Equal(t, append(seeded, []any{3, "three"}), h.rows("t"))
}

func TestFlushLeavesNothingToRedo(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, _ := h.run("INSERT INTO t VALUES (3, 'three');\nFLUSH\nCRASH\n")
	assert.Equal(t, "INSERT 1\nFLUSH\n", out)

	stats := h.db.RecoveryStats()
	assert.Zero(t, stats.Redone)
	assert.Zero(t, stats.RedoLSN)
	assert.Greater(t, stats.CheckpointLSN, int64(0))
	assert.Len(t, h.rows("t"), 3)
}

func TestStatementSplitting(t *testing.T) {
	h := newHarness(t)
	out, _ := h.run("CREATE TABLE s (v VARCHAR(20)); INSERT INTO s VALUES ('a;b');\n" +
		"INSERT INTO s\n  VALUES ('c');\n" +
		"INSERT INTO s VALUES ('d')")
	assert.Equal(t, "CREATE TABLE\nINSERT 1\nINSERT 1\nINSERT 1\n", out)
	assert.Equal(t, [][]any{{"a;b"}, {"c"}, {"d"}}, h.rows("s"))
}

func TestErrorsArePrintedAndSessionContinues(t *testing.T) {
	h := newHarness(t)
	out, code := h.run("SELECT * FROM missing;\nCOMMIT\nCREATE TABLE t (a INT);\nINSERT INTO t VALUES ('x');\nSELECT * FROM t;\n")
	assert.Zero(t, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "ERROR: "), lines[0])
	assert.Equal(t, "ERROR: no transaction is open", lines[1])
	assert.Equal(t, "CREATE TABLE", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "ERROR: "), lines[3])
	assert.Equal(t, []string{"a", "-", "(0 rows)"}, lines[4:])
}

func TestExitRollsBackOpenTransaction(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, code := h.run("BEGIN\nINSERT INTO t VALUES (3, 'three');\nEXIT\nSELECT * FROM t;\n")
	assert.Zero(t, code)
	assert.Equal(t, "BEGIN\nINSERT 1\n", out)
	assert.Equal(t, seeded, h.rows("t"))
	assert.Empty(t, h.db.Transactions().Active())
}

func TestNestedBeginIsRejected(t *testing.T) {
	h := newHarness(t)
	var out bytes.Buffer
	s := shell.New(h.db, &out, func(int) {})
	require.NoError(t, s.Execute("BEGIN"))
	assert.True(t, s.InTransaction())
	require.NoError(t, s.Execute("start   transaction"))
	assert.Contains(t, out.String(), "ERROR: transaction")
	require.NoError(t, s.Execute("rollback;"))
	assert.False(t, s.InTransaction())
}

func TestCommitThatCannotReachDiskIsRolledBack(t *testing.T) {
	h := newHarness(t)
	h.run(seed)

	h.db.FailLogWrites(errors.New("no space left on device"))
	out, _ := h.run("INSERT INTO t VALUES (3, 'three');\nBEGIN;\nINSERT INTO t VALUES (4, 'four');\nCOMMIT;\nROLLBACK;\n")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "ERROR: "), lines[0])
	assert.Contains(t, lines[0], "no space left on device")
	assert.Equal(t, []string{"BEGIN", "INSERT 1"}, lines[1:3])
	assert.Contains(t, lines[3], "no space left on device")
	assert.Equal(t, "ERROR: no transaction is open", lines[4])
	assert.Empty(t, h.db.Transactions().Active())

	h.db.FailLogWrites(nil)
	out, _ = h.run("INSERT INTO t VALUES (3, 'three');\nCRASH\n")
	assert.Equal(t, "INSERT 1\n", out)
	assert.Empty(t, h.db.RecoveryStats().Losers)
	assert.Equal(t, append(seeded, []any{3, "three"}), h.rows("t"))
}

func TestControlWordEndsUnterminatedStatement(t *testing.T) {
	h := newHarness(t)
	h.run(seed)
	out, code := h.run("BEGIN;\nINSERT INTO t VALUES (3, 'three')\nCOMMIT;\nSELECT id FROM t\nCRASH;\n")
	assert.Equal(t, 1, code)
	assert.Equal(t, "BEGIN\nINSERT 1\nCOMMIT\nid\n--\n1\n2\n3\n(3 rows)\n", out)
	assert.Equal(t, append(seeded, []any{3, "three"}), h.rows("t"))
}
