package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	prompt string
	lookup func(string) (string, bool)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: "Enter keystore passphrase: ",
		lookup: os.LookupEnv,
	}
}

// Get returns the cached passphrase or resolves it on first use. Whitespace-only
// passphrases are rejected so keystores are never written unprotected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}

		fmt.Fprint(os.Stderr, s.prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
