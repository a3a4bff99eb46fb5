package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestLookupPrefersKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv(CanvasToken.Env, "from-env")
	if err := keyring.Set(service, CanvasToken.User, " from-keyring "); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := Lookup(CanvasToken)
	if err != nil || got != "from-keyring" {
		t.Errorf("Lookup = %q, %v", got, err)
	}
}

func TestLookupFallsBackToEnv(t *testing.T) {
	keyring.MockInit()
	t.Setenv(ExtractorToken.Env, "from-env")

	got, err := Lookup(ExtractorToken)
	if err != nil || got != "from-env" {
		t.Errorf("Lookup = %q, %v", got, err)
	}
}

func TestLookupNotFound(t *testing.T) {
	keyring.MockInit()
	t.Setenv(CanvasToken.Env, "")

	if _, err := Lookup(CanvasToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: no session"))
	t.Setenv(CanvasToken.Env, "")

	if _, err := Lookup(CanvasToken); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("err = %v, want ErrKeyringUnavailable", err)
	}
}
