package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// CredentialEnv supplies the master password when stdin is not a terminal.
const CredentialEnv = "NIMBUS_CREDENTIAL"

// stdinReader is shared so piped prompts consume successive lines.
var stdinReader *bufio.Reader

func stdin(cmd *cobra.Command) *bufio.Reader {
	if stdinReader == nil {
		stdinReader = bufio.NewReader(cmd.InOrStdin())
	}
	return stdinReader
}

// readCredential prompts for a password without echo. Without a terminal it
// falls back to NIMBUS_CREDENTIAL, then to one line of stdin.
func readCredential(cmd *cobra.Command, prompt string) ([]byte, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return b, nil
	}
	if v, ok := os.LookupEnv(CredentialEnv); ok {
		return []byte(v), nil
	}
	line, err := readLine(cmd)
	if err != nil {
		return nil, err
	}
	if line == "" {
		return nil, errors.New("no password provided")
	}
	return []byte(line), nil
}

// readNewCredential asks twice and requires both entries to match.
func readNewCredential(cmd *cobra.Command) ([]byte, error) {
	first, err := readCredential(cmd, "Enter new master password: ")
	if err != nil {
		return nil, err
	}
	if _, ok := os.LookupEnv(CredentialEnv); ok {
		return first, nil
	}
	second, err := readCredential(cmd, "Confirm master password: ")
	if err != nil {
		wipe(first)
		return nil, err
	}
	defer wipe(second)
	if string(first) != string(second) {
		wipe(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

// readLine reads a single line from stdin, trimming the line ending.
func readLine(cmd *cobra.Command) (string, error) {
	line, err := stdin(cmd).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	answer, err := readLine(cmd)
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func wipe(b []byte) { crypto.SecureWipe(b) }

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
