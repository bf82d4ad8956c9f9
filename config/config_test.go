package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/derkalaender/meshnow-go/internal/testutil"
)

func TestDefaultIsValid(t *testing.T) {
	testutil.MustOK(t, Default().Validate())
}

func TestValidateRejectsBadChannelRange(t *testing.T) {
	cfg := Default()
	cfg.MinChannel, cfg.MaxChannel = 5, 2
	testutil.MustErr(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxChildren(t *testing.T) {
	cfg := Default()
	cfg.MaxChildren = 0
	testutil.MustErr(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxParents(t *testing.T) {
	cfg := Default()
	cfg.MaxParentsToConsider = 0
	testutil.MustErr(t, cfg.Validate())
}

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	testutil.MustOK(t, err)
	testutil.Fatal(t, cfg == Default(), "missing config file should yield exactly the defaults")
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	testutil.MustOK(t, err)
	testutil.Fatal(t, cfg == Default(), "empty path should yield exactly the defaults")
}

func TestLoadOverridesDurationsFromMillis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshnow.json")
	testutil.MustOK(t, os.WriteFile(path, []byte(`{
		"max_children": 4,
		"status_send_interval_ms": 1234,
		"keep_alive_timeout_ms": 9000
	}`), 0o644))

	cfg, err := Load(path)
	testutil.MustOK(t, err)
	testutil.Fatal(t, cfg.MaxChildren == 4, "expected overridden max_children")
	testutil.Fatal(t, cfg.StatusSendInterval == 1234*time.Millisecond, "expected overridden status send interval")
	testutil.Fatal(t, cfg.KeepAliveTimeout == 9000*time.Millisecond, "expected overridden keep alive timeout")
	// fields absent from the JSON must retain their Default() values.
	testutil.Fatal(t, cfg.ConnectTimeout == Default().ConnectTimeout, "unspecified duration should keep its default")
}
