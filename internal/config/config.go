// Package config loads concord's configuration from CUE.
//
// A configuration file is plain CUE unified with the embedded #Config
// schema, which supplies defaults and rejects unknown fields:
//
//	room_version: "11"
//	limits: timeout: "5s"
//	keys: "a.example": "ed25519:1": "l8Hft5qXKn1vfHrg3p4+W8gELQVo8N13JkluMfmn2sQ"
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/concord/internal/cache"
	"github.com/roach88/concord/internal/roomversion"
	"github.com/roach88/concord/internal/signing"
	"github.com/roach88/concord/internal/stateres"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	RoomVersion string                       `json:"room_version"`
	Database    string                       `json:"database"`
	Workers     int                          `json:"workers"`
	Log         Log                          `json:"log"`
	Limits      Limits                       `json:"limits"`
	Cache       Cache                        `json:"cache"`
	Keys        map[string]map[string]string `json:"keys"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Limits bound a single resolution.
type Limits struct {
	MaxConflictedEvents int    `json:"max_conflicted_events"`
	MaxAuthChainEvents  int    `json:"max_auth_chain_events"`
	Timeout             string `json:"timeout"`

	timeout time.Duration
}

// Cache sizes the shared resolution cache.
type Cache struct {
	AuthChains int `json:"auth_chains"`
	Verdicts   int `json:"verdicts"`
}

// Error reports an invalid configuration, with a source position when CUE
// supplies one.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	return Parse("default.cue", nil)
}

// Load reads and validates the CUE file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Parse(path, src)
}

// Parse validates src against the schema and decodes it. filename is used
// in error positions.
func Parse(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	merged := def.Unify(v)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var c Config
	if err := merged.Decode(&c); err != nil {
		return nil, formatCUEError(err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// check applies the rules CUE cannot express.
func (c *Config) check() error {
	if !roomversion.Known(c.RoomVersion) {
		return &Error{Field: "room_version", Message: fmt.Sprintf("unsupported room version %q (known: %v)", c.RoomVersion, roomversion.Versions())}
	}

	d, err := time.ParseDuration(c.Limits.Timeout)
	if err != nil || d < 0 {
		return &Error{Field: "limits.timeout", Message: fmt.Sprintf("invalid duration %q", c.Limits.Timeout)}
	}
	c.Limits.timeout = d

	for server, byID := range c.Keys {
		for keyID, encoded := range byID {
			if _, err := decodeKey(encoded); err != nil {
				return &Error{Field: "keys." + server + "." + keyID, Message: err.Error()}
			}
		}
	}
	return nil
}

// StateLimits converts the limits for the resolver.
func (c *Config) StateLimits() stateres.Limits {
	return stateres.Limits{
		MaxConflictedEvents: c.Limits.MaxConflictedEvents,
		MaxAuthChainEvents:  c.Limits.MaxAuthChainEvents,
		Timeout:             c.Limits.timeout,
	}
}

// CacheConfig converts the cache sizes.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{AuthChainSize: c.Cache.AuthChains, VerdictSize: c.Cache.Verdicts}
}

// KeyRing returns a key ring holding the configured verification keys.
func (c *Config) KeyRing() *signing.StaticKeyRing {
	ring := signing.NewStaticKeyRing()
	for server, byID := range c.Keys {
		for keyID, encoded := range byID {
			// Validated by check.
			key, _ := decodeKey(encoded)
			ring.Add(server, keyID, key)
		}
	}
	return ring
}

// Logger builds a slog logger writing to w. verbose forces debug level.
func (c *Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := signing.DecodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ed25519 public key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// formatCUEError keeps the first error with its source position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}
