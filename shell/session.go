// Package shell is the line-oriented front end: it splits input into statements, handles the control
// words and hands SQL to the engine.
package shell

import (
	"fmt"
	"io"
	"strings"

	"crashdb/engine"
	"crashdb/executor"
	"crashdb/logger"
	"crashdb/tx"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrCrashed is returned by Run after a CRASH command once the exit function has returned.
var ErrCrashed = errors.New("crashed")

var errQuit = errors.New("quit")

// Session runs statements for one client. Statements outside BEGIN ... COMMIT/ROLLBACK each run in their
// own transaction, committed when the statement succeeds and rolled back when it fails.
type Session struct {
	db      *engine.DB
	out     io.Writer
	exit    func(code int)
	txn     *tx.Transaction // open explicit transaction, nil in auto-commit mode
	pending strings.Builder
	logger  *logrus.Entry
}

// New creates a session writing its output to out. exit is called with a non-zero code after CRASH;
// pass os.Exit to end the process there.
func New(db *engine.DB, out io.Writer, exit func(code int)) *Session {
	return &Session{db: db, out: out, exit: exit, logger: logger.For("shell")}
}

// InTransaction reports whether an explicit transaction is open.
func (s *Session) InTransaction() bool {
	return s.txn != nil
}

// Run reads statements until EOF, EXIT or CRASH. A statement left without a terminating ';' at EOF still
// runs. An explicit transaction still open at the end is rolled back.
func (s *Session) Run(in io.Reader) error {
	return s.loop(newScannerSource(in))
}

func (s *Session) loop(src lineSource) error {
	defer src.Close()
	for {
		prompt := "crashdb> "
		if s.pending.Len() > 0 {
			prompt = "     ..> "
		}
		line, err := src.ReadLine(prompt)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		for _, stmt := range s.feed(line) {
			if err := s.Execute(stmt); err != nil {
				return s.stop(err)
			}
		}
	}
	if rest := strings.TrimSpace(s.pending.String()); rest != "" {
		s.pending.Reset()
		if err := s.Execute(rest); err != nil {
			return s.stop(err)
		}
	}
	return s.stop(errQuit)
}

func (s *Session) stop(err error) error {
	if errors.Is(err, ErrCrashed) {
		return err
	}
	if s.txn != nil {
		if rerr := s.txn.Rollback(); rerr != nil {
			s.logger.WithError(rerr).Warn("rollback of open transaction at exit failed")
		}
		s.txn = nil
	}
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// feed adds a line of input and returns the statements it completes. A control word alone on a line
// needs no ';', and it also ends a statement still waiting for its ';'.
func (s *Session) feed(line string) []string {
	if word := strings.TrimSpace(line); isControl(word) {
		var stmts []string
		if rest := strings.TrimSpace(s.pending.String()); rest != "" {
			stmts = append(stmts, rest)
		}
		s.pending.Reset()
		return append(stmts, word)
	}
	var stmts []string
	var quote rune
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			if stmt := strings.TrimSpace(s.pending.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			s.pending.Reset()
			continue
		}
		s.pending.WriteRune(r)
	}
	if s.pending.Len() > 0 {
		s.pending.WriteByte('\n')
	}
	if strings.TrimSpace(s.pending.String()) == "" {
		s.pending.Reset()
	}
	return stmts
}

func isControl(word string) bool {
	switch strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(word, ";"))) {
	case "BEGIN", "START TRANSACTION", "COMMIT", "ROLLBACK", "FLUSH", "CRASH", "EXIT", "QUIT":
		return true
	}
	return false
}

// Execute runs one statement without its terminating ';'. Statement errors are printed and swallowed;
// only CRASH, EXIT and output failures are returned.
func (s *Session) Execute(stmt string) error {
	word := strings.ToUpper(strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(stmt), ";")), " "))
	var err error
	switch word {
	case "":
		return nil
	case "BEGIN", "START TRANSACTION":
		err = s.begin()
	case "COMMIT":
		err = s.commit()
	case "ROLLBACK":
		err = s.rollback()
	case "FLUSH":
		err = s.flush()
	case "CRASH":
		s.db.Crash()
		s.txn = nil
		s.exit(1)
		return ErrCrashed
	case "EXIT", "QUIT":
		return errQuit
	default:
		err = s.statement(stmt)
	}
	if err != nil {
		s.logger.WithError(err).Debug("statement failed")
		_, werr := fmt.Fprintf(s.out, "ERROR: %v\n", err)
		return werr
	}
	return nil
}

func (s *Session) begin() error {
	if s.txn != nil {
		return errors.Errorf("transaction %d is already open", s.txn.TxNum())
	}
	s.txn = s.db.Begin()
	return s.println("BEGIN")
}

// commit ends the explicit transaction. A commit whose log force fails rolls the transaction back, so
// the session leaves transaction mode either way.
func (s *Session) commit() error {
	if s.txn == nil {
		return errors.New("no transaction is open")
	}
	txn := s.txn
	err := txn.Commit()
	if txn.State() != tx.Active {
		s.txn = nil
	}
	if err != nil {
		return err
	}
	return s.println("COMMIT")
}

func (s *Session) rollback() error {
	if s.txn == nil {
		return errors.New("no transaction is open")
	}
	if err := s.abort(s.txn, nil); err != nil {
		return err
	}
	return s.println("ROLLBACK")
}

// abort rolls txn back after cause (nil for a plain ROLLBACK). A transaction whose undo could not finish
// stays active and becomes the session's open transaction, so ROLLBACK can be retried.
func (s *Session) abort(txn *tx.Transaction, cause error) error {
	err := txn.Rollback()
	if txn.State() == tx.Active {
		s.txn = txn
		if cause != nil {
			return errors.Wrapf(err, "rolling back after %v; transaction %d is still open", cause, txn.TxNum())
		}
		return errors.Wrapf(err, "transaction %d is still open", txn.TxNum())
	}
	s.txn = nil
	if err != nil && cause != nil {
		return errors.Wrapf(err, "rolling back after %v", cause)
	}
	return err
}

func (s *Session) flush() error {
	lsn, err := s.db.Checkpoint()
	if err != nil {
		return err
	}
	s.logger.WithField("lsn", lsn).Debug("flushed")
	return s.println("FLUSH")
}

func (s *Session) statement(sql string) error {
	if s.txn != nil {
		result, err := s.db.Execute(s.txn, sql)
		var partial *executor.PartialWriteError
		if errors.As(err, &partial) {
			if rerr := s.abort(s.txn, err); rerr != nil {
				return rerr
			}
			return errors.Wrap(err, "transaction rolled back")
		}
		if err != nil {
			return err
		}
		return s.print(result)
	}

	txn := s.db.Begin()
	result, err := s.db.Execute(txn, sql)
	if err != nil {
		if rerr := s.abort(txn, err); rerr != nil {
			return rerr
		}
		return err
	}
	// A failed commit has already rolled txn back.
	if err := txn.Commit(); err != nil {
		return err
	}
	return s.print(result)
}

func (s *Session) println(msg string) error {
	_, err := fmt.Fprintln(s.out, msg)
	return err
}
