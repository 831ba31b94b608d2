// Package editor hands card text to the user's external editor.
//
// A Session writes the text to a temporary markdown file; the caller runs
// Cmd (usually through tea.ExecProcess so the terminal is released) and
// then calls Finish to collect the result. The text layout is the title on
// the first line, a blank line, then the body.
package editor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode"
)

// DefaultEditor is used when neither $VISUAL nor $EDITOR is set.
const DefaultEditor = "vi"

var (
	// ErrAborted is returned by Finish when the user saved nothing new.
	ErrAborted = errors.New("edit aborted")
	// ErrEmptyTitle is returned by Split when the first line is blank.
	ErrEmptyTitle = errors.New("title must not be empty")
)

// Command returns the editor command line from $VISUAL or $EDITOR.
func Command(getenv func(string) string) ([]string, error) {
	raw := getenv("VISUAL")
	if strings.TrimSpace(raw) == "" {
		raw = getenv("EDITOR")
	}
	if strings.TrimSpace(raw) == "" {
		return []string{DefaultEditor}, nil
	}
	args, err := splitWords(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid $VISUAL/$EDITOR: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("invalid $VISUAL/$EDITOR: empty command")
	}
	return args, nil
}

// Session is one external edit of a piece of text.
type Session struct {
	path     string
	original string
	args     []string
}

// Start writes text to a temporary file for editing.
func Start(text string, getenv func(string) string) (*Session, error) {
	args, err := Command(getenv)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", "zb-edit-*.md")
	if err != nil {
		return nil, fmt.Errorf("creating edit file: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing edit file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing edit file: %w", err)
	}
	return &Session{path: f.Name(), original: text, args: args}, nil
}

// Path returns the file being edited.
func (s *Session) Path() string { return s.path }

// Cmd returns the editor process for the session.
func (s *Session) Cmd() *exec.Cmd {
	args := append(append([]string(nil), s.args[1:]...), s.path)
	return exec.Command(s.args[0], args...)
}

// Finish reads back the edited text and removes the file. runErr is the
// editor's exit error, if any. Unchanged or blank text yields ErrAborted.
func (s *Session) Finish(runErr error) (string, error) {
	defer os.Remove(s.path)
	if runErr != nil {
		return "", fmt.Errorf("editor %s: %w", s.args[0], runErr)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading edit file: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" || normalize(text) == normalize(s.original) {
		return "", ErrAborted
	}
	return text, nil
}

// Compose lays out a title and body for editing.
func Compose(title, body string) string {
	return title + "\n\n" + body
}

// Split parses text laid out by Compose. Surrounding blank lines of the
// body are dropped.
func Split(text string) (title, body string, err error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	first, rest, _ := strings.Cut(text, "\n")
	title = strings.TrimSpace(first)
	if title == "" {
		return "", "", ErrEmptyTitle
	}
	body = strings.Trim(rest, "\n")
	body = strings.TrimRight(body, " \t\n")
	return title, body, nil
}

func normalize(s string) string {
	return strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), " \t\n")
}

// splitWords splits an $EDITOR value into argv with POSIX-like quoting:
// single quotes are literal, double quotes honour \" and \\, and a
// backslash outside quotes escapes the next blank, quote or backslash.
// A quoted empty string ("" or '') yields an empty argument.
func splitWords(line string) ([]string, error) {
	var (
		words []string
		word  strings.Builder
		open  bool // a word has started, even if it is still empty
		quote rune
	)
	end := func() {
		if open {
			words = append(words, word.String())
			word.Reset()
			open = false
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case quote == '"':
			switch {
			case r == '"':
				quote = 0
			case r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\'):
				i++
				word.WriteRune(runes[i])
			case r == '\\' && i+1 == len(runes):
				return nil, errors.New("editor command ends in an escape")
			default:
				word.WriteRune(r)
			}
		case unicode.IsSpace(r):
			end()
		case r == '\'' || r == '"':
			quote = r
			open = true
		case r == '\\':
			if i+1 == len(runes) {
				return nil, errors.New("editor command ends in an escape")
			}
			open = true
			if strings.ContainsRune(" \t\n\r\\\"'", runes[i+1]) {
				i++
				word.WriteRune(runes[i])
			} else {
				word.WriteRune(r)
			}
		default:
			open = true
			word.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("editor command has an unterminated %c quote", quote)
	}
	end()
	return words, nil
}
