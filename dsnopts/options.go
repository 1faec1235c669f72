// Package dsnopts is the thin connection-string/config seam of spec §6:
// a plain Options struct, a best-effort DSN parser (not a full
// `jdbc:mysql://...` grammar — that's explicitly out of scope per
// spec.md §1), a YAML file loader, and a hot-reload file watcher.
package dsnopts

import (
	"fmt"
	"time"

	"github.com/dbbouncer/mysqlcore/protocol"
)

// Options bundles the recognized connection-string keys of spec §6 plus
// the host/credentials needed to dial, in the same flat-struct-with-
// defaults style as the teacher's config.TenantConfig.
type Options struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CharacterID is the session charset id per MySQL's collation
	// catalog ("characterId"). Defaults to 45 (utf8mb4).
	CharacterID uint8 `yaml:"character_id"`

	// CapabilitiesFlags are additional capability bits OR-ed into the
	// client desired set ("capabilitiesFlags"). Defaults to 0.
	CapabilitiesFlags uint32 `yaml:"capabilities_flags"`

	// PingPeriod is the heartbeat interval ("pingPeriod"); <= 0 disables
	// it. Defaults to 30s.
	PingPeriod time.Duration `yaml:"ping_period"`
}

// ApplyDefaults fills in the zero-valued fields with spec §6's defaults,
// mirroring config.applyDefaults' shape in the teacher (a dedicated
// function run once after parse/unmarshal, not defaults baked into the
// zero value).
func (o *Options) ApplyDefaults() {
	if o.CharacterID == 0 {
		o.CharacterID = protocol.DefaultClientCharset
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = 30 * time.Second
	}
}

// Addr returns the host:port pair channel.Dial expects.
func (o Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// DesiredCapabilities returns the caller-selected capability bits as a
// protocol.Capabilities value, for ORing into a channel.Config's
// DesiredCapabilities.
func (o Options) DesiredCapabilities() protocol.Capabilities {
	return protocol.Capabilities(o.CapabilitiesFlags)
}

// Validate reports the first missing required field, mirroring the
// teacher's validate(cfg) shape (one function, one error per field,
// called right after parse).
func (o Options) Validate() error {
	switch {
	case o.Host == "":
		return errMissingField("host")
	case o.Port == 0:
		return errMissingField("port")
	case o.Database == "":
		return errMissingField("database")
	case o.Username == "":
		return errMissingField("username")
	}
	return nil
}
