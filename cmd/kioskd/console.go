package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pavkata12/client8/internal/domain"
)

// sessionControl is the part of the controller the console drives.
type sessionControl interface {
	SubmitCredentials(username string, password []byte)
	EndSession()
	Reconnect()
	AwaitingLogin() <-chan struct{}
}

// runConsole is a line-based login front-end for terminals without a UI
// shell. ":end" ends the running session and ":reconnect" retries the
// server connection. Returns nil when in reaches EOF or ctx is done.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, ctrl sessionControl) error {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			// Scanner reuses its buffer; the password must not alias it.
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var username string
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ctrl.AwaitingLogin():
			username = ""
			fmt.Fprint(out, "login: ")

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(string(line))
			switch {
			case text == ":end":
				ctrl.EndSession()
			case text == ":reconnect":
				ctrl.Reconnect()
			case username == "":
				if text == "" {
					fmt.Fprint(out, "login: ")
					continue
				}
				username = text
				fmt.Fprint(out, "password: ")
			default:
				ctrl.SubmitCredentials(username, line)
				username = ""
			}
		}
	}
}

// consoleNotifier prints notifications to the console.
type consoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out}
}

func (n *consoleNotifier) Notify(level domain.NoticeLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prefix := ""
	switch level {
	case domain.NoticeCritical:
		prefix = "!! "
	case domain.NoticeWarning:
		prefix = "! "
	}
	fmt.Fprintf(n.out, "\n%s%s: %s\n", prefix, title, message)
}

var _ domain.Notifier = (*consoleNotifier)(nil)
