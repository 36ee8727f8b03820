// Package monitor tracks the live playback state of one remote player by
// talking to its media server, reconciling push notifications against pull
// polling depending on which server implementation answers.
package monitor

// Classification is the one-time determination of which server implementation
// the monitored player is attached to. It is settled once per monitor
// lifetime; the only later correction is the fallback to
// AlternateImplementation when subscription setup fails.
type Classification int

const (
	// Unknown means detection has not run yet.
	Unknown Classification = iota
	// StandardServer is a stock server supporting CLI event subscription.
	StandardServer
	// AlternateImplementation is a reimplementation (identified by its
	// serverstatus uuid) that only supports polling.
	AlternateImplementation
)

// String returns the string representation of the classification
func (c Classification) String() string {
	switch c {
	case StandardServer:
		return "Standard"
	case AlternateImplementation:
		return "Alternate"
	default:
		return "Unknown"
	}
}

// alternateSentinel is the serverstatus identity value that marks an
// alternate server implementation. Wire-compatible constant, do not change.
const alternateSentinel = "aioslimproto"

// statusTags is the field-tag set requested with every status RPC.
// Wire-compatible constant, do not change.
const statusTags = "tags:cgAABbehldiqtyrTISSuoKLNJj"

// subscribedKinds is the set of event categories relevant to playback.
var subscribedKinds = []string{"play", "stop", "pause", "playlist", "mixer", "sync"}
