// Package clientstate encodes the opaque correlation token carried in the
// call-control provider's free-form client_state field. The token is attached
// to outbound dial requests and echoed back on the resulting webhook, which is
// the only reliable way to recognize a leg this service created itself.
package clientstate

import (
	"encoding/base64"
	"encoding/json"
)

// Kind discriminates what flow an echoed token belongs to.
type Kind string

const (
	KindAILeg       Kind = "ai_leg"       // leg dialed toward the AI agent's SIP endpoint
	KindHumanLeg    Kind = "human_leg"    // human takeover leg joining an existing conference
	KindOutboundLeg Kind = "outbound_leg" // system-initiated leg toward a human contact
)

// Version is bumped when the payload shape changes. Decoders accept any
// version whose kind they recognize so in-flight calls survive a deploy.
const Version = 1

// Payload is the structured record smuggled through client_state.
type Payload struct {
	Version      int    `json:"v"`
	Kind         Kind   `json:"kind"`
	ConferenceID string `json:"conference_id,omitempty"`
	Counterpart  string `json:"counterpart,omitempty"` // address of the other party
	AgentID      string `json:"agent_id,omitempty"`
}

// Encode serializes the payload to the base64 string the provider expects.
func Encode(p Payload) string {
	if p.Version == 0 {
		p.Version = Version
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses an echoed client_state value. A missing, malformed, or
// unrecognized token returns ok=false; callers fall through to id-based
// correlation instead of treating it as an error.
func Decode(token string) (Payload, bool) {
	if token == "" {
		return Payload{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, false
	}
	switch p.Kind {
	case KindAILeg, KindHumanLeg, KindOutboundLeg:
		return p, true
	}
	return Payload{}, false
}
