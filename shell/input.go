package shell

import (
	"bufio"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

// lineSource yields input lines without their newline and io.EOF at the end.
type lineSource interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type scannerSource struct {
	scanner *bufio.Scanner
}

func newScannerSource(in io.Reader) *scannerSource {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	return &scannerSource{scanner: scanner}
}

func (s *scannerSource) ReadLine(string) (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scannerSource) Close() error { return nil }

type readlineSource struct {
	rl *readline.Instance
}

func (s *readlineSource) ReadLine(prompt string) (string, error) {
	s.rl.SetPrompt(prompt)
	line, err := s.rl.Readline()
	if err == readline.ErrInterrupt {
		// Ctrl-C abandons the line being typed, not the session.
		return "", nil
	}
	return line, err
}

func (s *readlineSource) Close() error {
	return s.rl.Close()
}

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return readline.IsTerminal(int(os.Stdin.Fd()))
}

// RunInteractive is Run over a line editor on the terminal, with history kept in historyFile when it is
// not empty.
func (s *Session) RunInteractive(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "crashdb> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return errors.Wrap(err, "cannot start line editor")
	}
	return s.loop(&readlineSource{rl: rl})
}
