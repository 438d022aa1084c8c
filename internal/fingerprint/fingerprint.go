// Package fingerprint derives the soft device identifier used for per-plan
// device counting. It is not a credential and must never gate access on
// its own.
package fingerprint

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Length is the number of base64 characters kept.
const Length = 32

type Environment struct {
	UserAgent      string
	Language       string
	ScreenWidth    int
	ScreenHeight   int
	TimezoneOffset int
	CanvasHash     string
}

// Compute is deterministic for a given environment.
func Compute(env Environment) string {
	raw := strings.Join([]string{
		env.UserAgent,
		env.Language,
		strconv.Itoa(env.ScreenWidth) + "x" + strconv.Itoa(env.ScreenHeight),
		strconv.Itoa(env.TimezoneOffset),
		env.CanvasHash,
	}, "|")

	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	if len(encoded) > Length {
		encoded = encoded[:Length]
	}
	return encoded
}

// FromRequest reads the environment the frontend reports in headers.
// Missing or malformed values are left zero.
func FromRequest(r *http.Request) Environment {
	env := Environment{
		UserAgent:  r.Header.Get("User-Agent"),
		Language:   primaryLanguage(r.Header.Get("Accept-Language")),
		CanvasHash: r.Header.Get("X-Canvas-Hash"),
	}

	if res := r.Header.Get("X-Screen-Resolution"); res != "" {
		if w, h, ok := strings.Cut(res, "x"); ok {
			env.ScreenWidth, _ = strconv.Atoi(strings.TrimSpace(w))
			env.ScreenHeight, _ = strconv.Atoi(strings.TrimSpace(h))
		}
	}
	if tz := r.Header.Get("X-Timezone-Offset"); tz != "" {
		env.TimezoneOffset, _ = strconv.Atoi(strings.TrimSpace(tz))
	}
	return env
}

func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// Session pins the fingerprint to the environment seen on first use. Later
// changes, such as a resized window, do not alter it.
type Session struct {
	once  sync.Once
	value string
	env   func() Environment
}

func NewSession(env func() Environment) *Session {
	return &Session{env: env}
}

func (s *Session) Fingerprint() string {
	s.once.Do(func() {
		s.value = Compute(s.env())
	})
	return s.value
}
