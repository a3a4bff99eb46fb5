// Package credentials reads API tokens from the OS keyring, with an
// environment variable fallback for headless hosts.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const service = "notiflow"

// Secret names a stored token and its environment fallback.
type Secret struct {
	User string
	Env  string
}

var (
	CanvasToken    = Secret{User: "canvas-token", Env: "NOTIFLOW_CANVAS_TOKEN"}
	ExtractorToken = Secret{User: "extractor-token", Env: "NOTIFLOW_EXTRACTOR_TOKEN"}
)

var (
	// ErrNotFound is returned when neither the keyring nor the environment
	// holds the secret.
	ErrNotFound = errors.New("credentials not found")
	// ErrKeyringUnavailable is returned when the OS keyring cannot be read
	// and there is no environment fallback.
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

// Lookup returns the secret from the keyring, or from its environment
// variable when the keyring has none.
func Lookup(s Secret) (string, error) {
	v, err := keyring.Get(service, s.User)
	if err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if env := strings.TrimSpace(os.Getenv(s.Env)); env != "" {
		return env, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return "", fmt.Errorf("%w: set %s or store %q in the keyring", ErrNotFound, s.Env, s.User)
}
