package transcript

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single message in a conversation. Assistant content
// is either plain display text or a serialized response envelope; the
// variant is fixed when the turn is written, not guessed on render.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// env caches the decoded payload for turns written locally. Turns
	// hydrated from the store or the backend decode lazily instead.
	env *Envelope
}

// Envelope is the structured assistant payload: the display text plus
// optional generated code and plot attachments.
type Envelope struct {
	ModelResponse string `json:"model_response"`
	GeneratedCode string `json:"generated_code,omitempty"`
	PlotBase64    string `json:"plot_base64,omitempty"`
}

// User creates a user turn.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantText creates an assistant turn carrying plain display text,
// used for synthetic notices that never came from the backend.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Content: text, env: &Envelope{ModelResponse: text}}
}

// AssistantEnvelope creates an assistant turn from a raw response body.
// The content holds the body verbatim so nothing the backend sent is
// lost, including fields this client does not know about.
func AssistantEnvelope(raw json.RawMessage) Turn {
	env := ParseEnvelope(string(raw))
	return Turn{Role: RoleAssistant, Content: string(raw), env: &env}
}

// Envelope returns the structured payload of the turn. Content that is
// not a serialized envelope is treated as plain display text; rendering
// never fails on a malformed entry.
func (t Turn) Envelope() Envelope {
	if t.env != nil {
		return *t.env
	}
	return ParseEnvelope(t.Content)
}

// ParseEnvelope decodes a serialized envelope, falling back to treating
// the raw text as the display text.
func ParseEnvelope(content string) Envelope {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return Envelope{ModelResponse: content}
	}
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return Envelope{ModelResponse: content}
	}
	return env
}

// PartialContent re-serializes a response body with the display text
// replaced by a streaming prefix. Every other field of the body rides
// along unchanged, so attachments appear as soon as a snapshot renders.
func PartialContent(raw json.RawMessage, prefix string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return prefix
	}
	enc, err := json.Marshal(prefix)
	if err != nil {
		return prefix
	}
	fields["model_response"] = enc
	out, err := json.Marshal(fields)
	if err != nil {
		return prefix
	}
	return string(out)
}

// Transcript is the ordered sequence of turns for one session. Array
// position is the sole ordering key.
type Transcript []Turn

// Last returns the trailing turn, if any.
func (tr Transcript) Last() (Turn, bool) {
	if len(tr) == 0 {
		return Turn{}, false
	}
	return tr[len(tr)-1], true
}

// Clone returns an independent copy of the transcript.
func (tr Transcript) Clone() Transcript {
	out := make(Transcript, len(tr))
	copy(out, tr)
	return out
}

// Append returns a transcript with turn added. Appending a user turn
// identical to the current trailing user turn is a no-op, so a
// re-delivered submit reuses the existing transcript as its base. The
// second result reports whether the turn was actually added.
func (tr Transcript) Append(turn Turn) (Transcript, bool) {
	if turn.Role == RoleUser {
		if last, ok := tr.Last(); ok && last.Role == RoleUser && last.Content == turn.Content {
			return tr, false
		}
	}
	out := make(Transcript, len(tr), len(tr)+1)
	copy(out, tr)
	return append(out, turn), true
}

// ReplaceFrom truncates the transcript at index and appends turns. It
// never aliases the receiver's backing array.
func (tr Transcript) ReplaceFrom(index int, turns ...Turn) Transcript {
	if index < 0 {
		index = 0
	}
	if index > len(tr) {
		index = len(tr)
	}
	out := make(Transcript, index, index+len(turns))
	copy(out, tr[:index])
	return append(out, turns...)
}
