package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvPassphrase supplies the key passphrase non-interactively.
const EnvPassphrase = "CHARA_PASSPHRASE"

var stdin = bufio.NewReader(os.Stdin)

// readPassphrase prompts on stderr and reads a line from stdin without
// echo when stdin is a terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return p, nil
	}

	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readNewPassphrase asks twice and requires both answers to match.
func readNewPassphrase() (string, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return p, nil
	}
	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}
