// Package clipboard copies generated text for the CLI. The system clipboard
// is tried first; terminals without one get an OSC 52 escape sequence.
package clipboard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
)

var ErrEmpty = errors.New("nothing to copy")

type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Fallback is true when the text went out through the terminal.
	Fallback bool `json:"fallback,omitempty"`
}

// Copier is swappable so tests do not touch the real clipboard.
type Copier struct {
	Write    func(string) error
	Terminal io.Writer
}

func System() *Copier {
	return &Copier{Write: clipboard.WriteAll, Terminal: os.Stderr}
}

func Copy(text string) Result {
	return System().Copy(text)
}

func (c *Copier) Copy(text string) Result {
	if text == "" {
		return Result{Error: ErrEmpty.Error()}
	}

	primary := errors.New("system clipboard unavailable")
	if c.Write != nil && !clipboard.Unsupported {
		if primary = c.Write(text); primary == nil {
			return Result{Success: true}
		}
	}

	if c.Terminal == nil {
		return Result{Error: primary.Error()}
	}
	if _, err := fmt.Fprint(c.Terminal, osc52(text)); err != nil {
		return Result{Error: fmt.Sprintf("%v; terminal fallback: %v", primary, err)}
	}
	return Result{Success: true, Fallback: true}
}

func osc52(text string) string {
	return "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\a"
}
