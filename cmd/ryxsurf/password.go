package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/codefionn/ryxsurf/internal/config"
	"github.com/codefionn/ryxsurf/internal/persistence"
	"github.com/codefionn/ryxsurf/internal/secrets"
)

const maxPasswordAttempts = 3

// passwordPrompt is replaced in tests.
var passwordPrompt = promptForPassword

// ensureMasterPassword asks for the passphrase until it opens the session
// store. A store without a verifier accepts the first answer.
func ensureMasterPassword(cfg *config.Config) error {
	if err := secrets.Init(); err != nil {
		return err
	}
	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		pw, err := passwordPrompt("Enter master password: ")
		if err != nil {
			return err
		}
		ok, err := opensStore(cfg.SessionsDBPath(), pw)
		if err != nil {
			return err
		}
		if ok {
			cfg.SetMasterPassword(pw)
			return nil
		}
		fmt.Fprintln(os.Stderr, "Invalid password, try again.")
	}
	return secrets.ErrInvalidPassword
}

func opensStore(path, password string) (bool, error) {
	store, err := persistence.Open(persistence.Options{Path: path, MasterPassword: password})
	if err != nil {
		return false, err
	}
	locked := store.Locked()
	if err := store.Close(); err != nil {
		return false, err
	}
	return !locked, nil
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
