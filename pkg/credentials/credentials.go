// Package credentials resolves the API tokens zb needs. A token comes from
// the command line, the environment, the OS keyring or an interactive
// prompt, in that order. Tokens given on the command line or typed at the
// prompt are saved to the keyring for later runs.
package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/vanderheijden86/zenboard/pkg/debug"
)

// Services with a token.
const (
	GitHub = "github"
	ZenHub = "zenhub"
)

// DefaultKeyringService is the keyring service name entries are stored under.
const DefaultKeyringService = "zb"

var (
	// ErrMissing is returned when no source yields a token.
	ErrMissing = errors.New("no token available")
	// ErrNoTerminal is returned by a terminal prompt when stdin is not a terminal.
	ErrNoTerminal = errors.New("stdin is not a terminal")
)

// EnvVar returns the environment variable consulted for service.
func EnvVar(service string) string {
	return strings.ToUpper(service) + "_TOKEN"
}

// Store persists tokens per service.
type Store interface {
	Get(service string) (token string, ok bool, err error)
	Set(service, token string) error
}

// KeyringStore keeps tokens in the OS keyring.
type KeyringStore struct {
	// Service is the keyring service name; defaults to DefaultKeyringService.
	Service string
}

func (k KeyringStore) name() string {
	if k.Service == "" {
		return DefaultKeyringService
	}
	return k.Service
}

func user(service string) string { return "token@" + service }

// Get returns the stored token for service. A missing entry is not an error.
func (k KeyringStore) Get(service string) (string, bool, error) {
	token, err := keyring.Get(k.name(), user(service))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s token from keyring: %w", service, err)
	}
	return token, token != "", nil
}

// Set stores token for service.
func (k KeyringStore) Set(service, token string) error {
	if err := keyring.Set(k.name(), user(service), token); err != nil {
		return fmt.Errorf("saving %s token to keyring: %w", service, err)
	}
	return nil
}

// Prompter asks the user for a token.
type Prompter func(service string) (string, error)

// TerminalPrompter reads a token from in with echo disabled, writing the
// prompt to out.
func TerminalPrompter(in *os.File, out io.Writer) Prompter {
	return func(service string) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", ErrNoTerminal
		}
		fmt.Fprintf(out, "%s token: ", service)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading %s token: %w", service, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
}

// Origin records where a token was found.
type Origin int

const (
	FromFlag Origin = iota + 1
	FromEnv
	FromKeyring
	FromPrompt
)

func (o Origin) String() string {
	switch o {
	case FromFlag:
		return "flag"
	case FromEnv:
		return "environment"
	case FromKeyring:
		return "keyring"
	case FromPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// Resolver finds tokens. Nil fields disable the corresponding source.
type Resolver struct {
	Store  Store
	Getenv func(string) string
	Prompt Prompter
	Log    *debug.EventLogger
}

// NewResolver returns a resolver over the OS keyring, the process
// environment and a prompt on the controlling terminal.
func NewResolver() *Resolver {
	return &Resolver{
		Store:  KeyringStore{},
		Getenv: os.Getenv,
		Prompt: TerminalPrompter(os.Stdin, os.Stderr),
		Log:    debug.NewEventLogger("credentials"),
	}
}

// Resolve returns the token for service. flagValue, when non-empty, wins.
// Keyring failures are logged and treated as a missing entry.
func (r *Resolver) Resolve(service, flagValue string) (string, Origin, error) {
	if token := strings.TrimSpace(flagValue); token != "" {
		r.save(service, token)
		return token, FromFlag, nil
	}
	if r.Getenv != nil {
		if token := strings.TrimSpace(r.Getenv(EnvVar(service))); token != "" {
			return token, FromEnv, nil
		}
	}
	if r.Store != nil {
		token, ok, err := r.Store.Get(service)
		if err != nil {
			r.Log.Event(debug.LevelWarn, "keyring_unavailable", map[string]any{"service": service, "error": err})
		} else if ok {
			return token, FromKeyring, nil
		}
	}
	if r.Prompt != nil {
		token, err := r.Prompt(service)
		if err != nil && !errors.Is(err, ErrNoTerminal) {
			return "", 0, err
		}
		if token != "" {
			r.save(service, token)
			return token, FromPrompt, nil
		}
	}
	return "", 0, fmt.Errorf("%s: %w (pass --%s-token or set %s)", service, ErrMissing, service, EnvVar(service))
}

func (r *Resolver) save(service, token string) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Set(service, token); err != nil {
		r.Log.Event(debug.LevelWarn, "keyring_save_failed", map[string]any{"service": service, "error": err})
	}
}
