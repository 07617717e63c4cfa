package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/darshan-rambhia/minisftp"
	"golang.org/x/term"
)

// exitFunc ends the process after an interrupted prompt.
var exitFunc = os.Exit

// terminalPrompt asks for passwords on out and reads them from in. When in
// is a terminal, echo is turned off for the read and the terminal state is
// put back on every way out, including an interrupt.
func terminalPrompt(in *os.File, out io.Writer) minisftp.PasswordPrompt {
	var lines *bufio.Reader

	return func(ctx context.Context, user string, attempt int) (string, error) {
		if attempt > 1 {
			fmt.Fprintln(out, "Permission denied, please try again.")
		}
		fmt.Fprintf(out, "%s's password: ", user)

		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			if lines == nil {
				lines = bufio.NewReader(in)
			}
			return readLine(lines)
		}
		return readHidden(ctx, fd, out)
	}
}

// readLine reads one password per line, for piped input.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHidden(ctx context.Context, fd int, out io.Writer) (string, error) {
	state, err := term.GetState(fd)
	if err != nil {
		return "", fmt.Errorf("failed to save terminal state: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	defer func() {
		signal.Stop(sigs)
		close(done)
	}()

	go func() {
		select {
		case <-sigs:
			restoreTerminal(fd, state, out)
			exitFunc(130)
		case <-ctx.Done():
			restoreTerminal(fd, state, out)
		case <-done:
		}
	}()

	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func restoreTerminal(fd int, state *term.State, out io.Writer) {
	if err := term.Restore(fd, state); err != nil {
		fmt.Fprintf(out, "\nfailed to restore terminal: %v\n", err)
		return
	}
	fmt.Fprintln(out)
}
