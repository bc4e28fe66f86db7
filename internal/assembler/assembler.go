// Package assembler turns a resolved ancestor path into a provider-ready
// payload. It walks the path newest→oldest, applies the backend profile's
// role-relabeling and continuation-masking rules, and emits either a tagged
// text prompt or an ordered role/content list.
//
// The walk is cooperative: it yields the scheduler between messages so that
// assembling a very long conversation never monopolizes a processor. The
// yield is purely a fairness device — output is identical with it disabled.
package assembler

import (
	"context"
	"runtime"
	"strings"

	"github.com/howard-nolan/chatgateway/internal/backend"
	"github.com/howard-nolan/chatgateway/internal/thread"
)

// ChatMessage is one role/content pair in a structured payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is the provider-facing result of assembly. Exactly one of Prompt
// and Messages is populated, matching the profile's payload shape. An empty
// path produces a zero Payload — not an error; the transport simply sends
// an empty prompt.
type Payload struct {
	Prompt   string
	Messages []ChatMessage
}

// Assembler builds payloads for one backend profile.
type Assembler struct {
	profile backend.Profile

	// Yield is called between messages during the walk. Defaults to
	// runtime.Gosched; tests set it to nil or to a counter to prove the
	// output does not depend on it.
	Yield func()
}

// New returns an Assembler for the given profile.
func New(p backend.Profile) *Assembler {
	return &Assembler{profile: p, Yield: runtime.Gosched}
}

// Assemble consumes the path (newest first, each message visited exactly
// once) and returns the payload plus the ordered context of transformed
// messages actually used, both oldest→newest.
//
// Per-message rules, in traversal order:
//
//   - Continuation masking: a user turn that is neither the oldest nor the
//     newest message of the path has its content replaced by the profile's
//     placeholder. Whether the newest user turn is also protected is a
//     per-backend threshold (ProtectLastUser).
//   - Role relabeling: the stored role maps to the profile's output labels;
//     anything that is neither the user label nor the system label becomes
//     the bot label.
//
// After the walk, a normalization pass keeps the system label only on the
// first (oldest) system entry and demotes the rest to the bot label —
// providers reject multiple system turns. With KeepFirstSystem off, every
// system entry is demoted.
//
// The stored originals are never mutated; transformed copies go into the
// context list.
func (a *Assembler) Assemble(ctx context.Context, path []thread.Message) (*Payload, []thread.Message, error) {
	p := a.profile

	var (
		entries   []ChatMessage
		used      []thread.Message
		total     = len(path)
		iteration int
	)

	// Consume the path destructively from the newest end. Each processed
	// message is prepended, so the final order is oldest→newest.
	for len(path) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		msg := path[len(path)-1]
		path = path[:len(path)-1]

		label := relabel(p, msg.Role)
		content := msg.Content

		if p.MaskContinuations && label == p.UserLabel {
			oldest := iteration == total-1
			newest := iteration == 0
			if !oldest && (!newest || !p.ProtectLastUser) {
				content = p.ContinuationPlaceholder
			}
		}

		entries = append([]ChatMessage{{Role: label, Content: content}}, entries...)

		transformed := msg
		transformed.Role = label
		transformed.Content = content
		used = append([]thread.Message{transformed}, used...)

		iteration++

		if a.Yield != nil {
			a.Yield()
		}
	}

	normalizeSystem(p, entries)
	for i := range used {
		used[i].Role = entries[i].Role
	}

	payload := &Payload{}
	if len(entries) == 0 {
		return payload, used, nil
	}

	switch p.Shape {
	case backend.ShapeText:
		payload.Prompt = renderText(p, entries)
	default:
		payload.Messages = entries
	}
	return payload, used, nil
}

// relabel maps a stored role onto the profile's output vocabulary.
// Unknown roles collapse to the bot label.
func relabel(p backend.Profile, role string) string {
	switch role {
	case p.UserLabel:
		return p.UserLabel
	case p.SystemLabel:
		return p.SystemLabel
	default:
		return p.BotLabel
	}
}

// normalizeSystem demotes repeated system entries in place. Entries run
// oldest→newest, so "first" means the earliest system turn of the path.
func normalizeSystem(p backend.Profile, entries []ChatMessage) {
	seen := false
	for i := range entries {
		if entries[i].Role != p.SystemLabel {
			continue
		}
		if p.KeepFirstSystem && !seen {
			seen = true
			continue
		}
		entries[i].Role = p.BotLabel
	}
}

// renderText concatenates the entries into a single tagged prompt and
// appends an empty bot-label turn opener to prompt the reply:
//
//	<start>user:\nHello<end>\n<start>assistant:\n
func renderText(p backend.Profile, entries []ChatMessage) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(p.StartToken)
		sb.WriteString(e.Role)
		sb.WriteString(":\n")
		sb.WriteString(e.Content)
		sb.WriteString(p.EndToken)
		sb.WriteString("\n")
	}
	sb.WriteString(p.StartToken)
	sb.WriteString(p.BotLabel)
	sb.WriteString(":\n")
	return sb.String()
}
