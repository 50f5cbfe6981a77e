package session

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies the transport family a session belongs to.
type Kind int

const (
	// Local is the always-on session at registry slot 0.
	Local Kind = iota
	// LegacyNetwork is a network client identified weakly by IP address.
	LegacyNetwork
	// Satellite is a companion-device client identified by a stable UUID.
	Satellite
	// Web is a chat-style transport (e.g. Discord) identified by channel/guild.
	Web
)

// String returns the human-readable kind name:
// {LOCAL, LEGACY_NETWORK, SATELLITE, WEB}.
func (k Kind) String() string {
	switch k {
	case Local:
		return "LOCAL"
	case LegacyNetwork:
		return "LEGACY_NETWORK"
	case Satellite:
		return "SATELLITE"
	case Web:
		return "WEB"
	default:
		return "UNKNOWN"
	}
}

// Identity is implemented by the per-kind identity variants. A nil Identity
// is valid for Local sessions, which carry no external identity.
type Identity interface {
	// Key returns the value used for reconnect lookups (UUID string, IP
	// string, or channel ID). Empty for kinds with no reconnect identity.
	Key() string
}

// LegacyNetIdentity identifies a legacy network client by its source IP.
// IP-based identity is provisional: it is not reclaimable across NAT
// rebinds, and this implementation does not attempt to special-case that.
type LegacyNetIdentity struct {
	IP string
}

// Key returns the client IP string used as weak identity.
func (l LegacyNetIdentity) Key() string { return l.IP }

// SatelliteIdentity identifies a satellite companion device by a stable UUID
// plus human-readable presentation fields.
type SatelliteIdentity struct {
	UUID uuid.UUID
	Name string
	Room string
}

// Key returns the canonical UUID string used as strong identity. A nil UUID
// (a satellite identity built without one, e.g. via the two-field literal
// used for a first-time connect) has no reconnect identity yet, so it
// returns "" rather than the all-zeros UUID string — otherwise every such
// satellite would collide on the same key.
func (s SatelliteIdentity) Key() string {
	if s.UUID == uuid.Nil {
		return ""
	}
	return s.UUID.String()
}

// NewSatelliteIdentity generates a fresh random UUID for a new satellite
// connection that did not present an existing one.
func NewSatelliteIdentity(name, room string) SatelliteIdentity {
	return SatelliteIdentity{UUID: uuid.New(), Name: name, Room: room}
}

// ParseSatelliteUUID validates a 36-character UUID string presented by a
// reconnecting satellite client.
func ParseSatelliteUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session: invalid satellite uuid %q: %w", s, err)
	}
	return id, nil
}

// WebIdentity identifies a chat-style client by its transport-level channel.
type WebIdentity struct {
	ChannelID string
	GuildID   string
}

// Key returns the channel ID, used as the reconnect identity for WEB sessions.
func (w WebIdentity) Key() string { return w.ChannelID }

// Capabilities declares what a client does for itself.
type Capabilities struct {
	LocalASR bool
	LocalTTS bool
	WakeWord bool
}
