// Package config provides a go-simpler.org/env configuration table loaded
// from environment variables, with an optional ~/.config override file
// located via adrg/xdg.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"nightjar.dev/encoders/hex"
	"nightjar.dev/utils/apputil"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/lol"
)

// C holds the relay's runtime configuration.
type C struct {
	Port    int    `env:"RELAY_PORT" default:"8080" usage:"TCP port to listen on"`
	DataDir string `env:"DATA_DIR" default:"./data" usage:"directory holding the event store"`

	OwnerOnly   bool   `env:"RELAY_OWNER_ONLY" default:"false" usage:"restrict EVENT acceptance to a single pubkey"`
	OwnerPubkey string `env:"NOSTR_OWNER_PUBKEY" usage:"hex pubkey allowed to publish when owner-only is set"`

	Name        string `env:"RELAY_NAME" default:"nightjar" usage:"NIP-11 relay name"`
	Description string `env:"RELAY_DESCRIPTION" usage:"NIP-11 relay description"`
	Contact     string `env:"RELAY_CONTACT" usage:"NIP-11 contact field"`

	MinPow int `env:"RELAY_MIN_POW" default:"0" usage:"minimum NIP-13 proof-of-work bits required to accept an event"`

	PastLimitSeconds   int64 `env:"RELAY_CREATED_AT_PAST_LIMIT_SECONDS" default:"2592000" usage:"oldest acceptable created_at, in seconds before now"`
	FutureLimitSeconds int64 `env:"RELAY_CREATED_AT_FUTURE_LIMIT_SECONDS" default:"600" usage:"furthest acceptable created_at, in seconds after now"`

	LogLevel string `env:"RELAY_LOG_LEVEL" default:"info" usage:"fatal error warn info debug trace"`

	AuthRequired bool `env:"RELAY_AUTH_REQUIRED" default:"false" usage:"require NIP-42 AUTH before EVENT/REQ are served"`

	Pprof string `env:"RELAY_PPROF" usage:"enable pprof on 127.0.0.1:6060" enum:"cpu,memory,allocation"`
}

// OwnerPubkeyBytes decodes the configured owner pubkey. It returns a nil
// slice (not an error) when OwnerOnly is false, since no owner is needed.
func (c *C) OwnerPubkeyBytes() (pk []byte, err error) {
	if !c.OwnerOnly {
		return nil, nil
	}
	return hex.Dec(strings.TrimSpace(c.OwnerPubkey))
}

// New loads configuration from the environment, first applying any
// KEY=VALUE overrides found in an .env file under the XDG config home (an
// explicit environment variable always wins over the file, since
// loadDotEnv only sets a variable that isn't already present).
func New() (cfg *C, err error) {
	envPath := filepath.Join(xdg.ConfigHome, "nightjar", ".env")
	if apputil.FileExists(envPath) {
		if err = loadDotEnv(envPath); chk.E(err) {
			return
		}
	}
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	lol.SetLogLevel(cfg.LogLevel)
	return
}

// loadDotEnv sets process environment variables from a simple KEY=VALUE
// file, one assignment per line, ignoring blank lines and lines starting
// with '#'. Existing environment variables are never overwritten.
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if _, present := os.LookupEnv(k); present {
			continue
		}
		_ = os.Setenv(k, strings.TrimSpace(v))
	}
	return sc.Err()
}
