package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ReadPassphrase prompts on stderr and reads a passphrase from stdin without
// echo. When stdin is not a terminal the first line is read instead.
func ReadPassphrase() (string, error) {
	return readPassphrase(os.Stdin, os.Stderr, "Passphrase: ")
}

// ReadNewPassphrase asks for a passphrase twice and fails when the entries differ.
func ReadNewPassphrase() (string, error) {
	first, err := readPassphrase(os.Stdin, os.Stderr, "New passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	second, err := readPassphrase(os.Stdin, os.Stderr, "Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

func readPassphrase(in *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}
	return readLine(in)
}

// readLine reads up to a newline one byte at a time so later prompts can
// read the following lines from the same stream.
func readLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err == io.EOF {
			if sb.Len() == 0 {
				return "", fmt.Errorf("reading passphrase: %w", io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}
