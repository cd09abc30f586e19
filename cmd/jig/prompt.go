package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readSecret prompts for a secret. On a terminal the input is not echoed;
// otherwise one line is read from the command's input.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	errOut := cmd.ErrOrStderr()
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(errOut, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
		}
		return string(b), nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input for %s", strings.TrimSuffix(strings.ToLower(prompt), ": "))
}

// readNewSecret prompts twice and requires both entries to match.
func readNewSecret(cmd *cobra.Command, prompt string) (string, error) {
	first, err := readSecret(cmd, prompt+": ")
	if err != nil {
		return "", err
	}
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return first, nil
	}
	second, err := readSecret(cmd, "Confirm "+strings.ToLower(prompt)+": ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("entries do not match")
	}
	return first, nil
}
