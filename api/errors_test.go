package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/momentics/hioload-io/api"
)

func TestOSErrorMatchesKindAndErrno(t *testing.T) {
	errno := fmt.Errorf("ECONNREFUSED")
	err := api.NewOSError("connect", errno, api.ErrConnectionRefused)

	if !errors.Is(err, api.ErrConnectionRefused) {
		t.Error("errors.Is does not match the taxonomy sentinel")
	}
	if !errors.Is(err, errno) {
		t.Error("errors.Is does not match the raw OS error")
	}
	if errors.Is(err, api.ErrConnectionReset) {
		t.Error("errors.Is matched an unrelated sentinel")
	}
}

func TestOSErrorUnclassified(t *testing.T) {
	errno := fmt.Errorf("EBADMSG")
	err := api.NewOSError("recv", errno, nil)

	if !errors.Is(err, errno) {
		t.Error("raw OS error lost on unclassified failure")
	}
	var osErr *api.OSError
	if !errors.As(err, &osErr) {
		t.Fatal("errors.As failed to recover *OSError")
	}
	if osErr.Op != "recv" {
		t.Errorf("Op = %q, want %q", osErr.Op, "recv")
	}
}

func TestOSErrorMessageCarriesOp(t *testing.T) {
	err := api.NewOSError("bind", fmt.Errorf("EADDRINUSE"), api.ErrAddressInUse)
	want := "bind: EADDRINUSE"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
