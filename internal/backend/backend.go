// Package backend describes each completion backend as a plain value: its
// role-label vocabulary, payload shape, prompt-rendering tokens, field paths
// for extracting tokens, and the masking/relabeling thresholds that drifted
// apart between providers. The assembler and transport are parameterized by
// a Profile instead of being copied per backend — one strategy value replaces
// four near-identical clients.
package backend

// PayloadShape selects how the assembled prompt is delivered to the backend.
type PayloadShape string

const (
	// ShapeText backends take a single concatenated prompt string with
	// role tags rendered inline.
	ShapeText PayloadShape = "text"
	// ShapeChat backends take an ordered list of role/content pairs.
	ShapeChat PayloadShape = "chat"
)

// Sampling holds the generation parameters sent with every request.
// Defaults are deliberately low-temperature — the gateway favors
// reproducible answers over creative ones.
type Sampling struct {
	Temperature     float64
	TopP            float64
	PresencePenalty float64
}

// DefaultSampling returns the gateway-wide sampling defaults.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.2, TopP: 0.85, PresencePenalty: 1.0}
}

// Profile is the backend-description value the assembler and transport are
// parameterized by. The masking/collapse switches encode behavior that
// differs between backends in ways that look like organic drift rather than
// design — they are kept per-backend on purpose instead of being unified.
type Profile struct {
	Name           string
	CompletionPath string // appended to the configured base URL
	Shape          PayloadShape

	// Role-label vocabulary. Stored messages carry these labels, and the
	// assembler emits them. Overridable from config.
	UserLabel   string
	BotLabel    string
	SystemLabel string

	// Text rendering tokens (ShapeText only). Each message becomes
	// StartToken + label + ":\n" + content + EndToken + "\n".
	StartToken string
	EndToken   string

	// KeepFirstSystem keeps the system label on the first system-role
	// message of the path; later system turns are demoted to BotLabel
	// (providers reject multiple system turns). When false, every system
	// turn is demoted.
	KeepFirstSystem bool

	// MaskContinuations replaces historical user turns with
	// ContinuationPlaceholder so full user content is not re-sent
	// verbatim. The oldest user turn always keeps its content;
	// ProtectLastUser decides whether the triggering turn does too.
	MaskContinuations       bool
	ContinuationPlaceholder string
	ProtectLastUser         bool

	// ExpectsDoneSentinel marks backends that reliably terminate streams
	// with a literal [DONE] event. Backends without it end streams by
	// closing the connection; the transport treats that close as an
	// implicit terminal event either way.
	ExpectsDoneSentinel bool

	// Headers are extra request headers, e.g. API version pins.
	Headers map[string]string

	Sampling Sampling
}

// Namespace returns the key prefix used to keep this backend's stored
// conversations separate from every other backend's.
func (p Profile) Namespace() string {
	return p.Name
}

const defaultPlaceholder = "continue"

// Profiles returns the built-in backend profiles, keyed by name.
//
// The threshold switches intentionally differ: proxy-chat does not protect
// the triggering user turn and davinci-raw demotes every system turn. Each
// backend's exact behavior is tuned to what that upstream tolerates, not to
// a universal rule.
func Profiles() map[string]Profile {
	return map[string]Profile{
		"openai-chat": {
			Name:                    "openai-chat",
			CompletionPath:          "/chat/completions",
			Shape:                   ShapeChat,
			UserLabel:               "user",
			BotLabel:                "assistant",
			SystemLabel:             "system",
			KeepFirstSystem:         true,
			MaskContinuations:       true,
			ContinuationPlaceholder: defaultPlaceholder,
			ProtectLastUser:         true,
			ExpectsDoneSentinel:     true,
			Sampling:                DefaultSampling(),
		},
		"openai-text": {
			Name:                    "openai-text",
			CompletionPath:          "/completions",
			Shape:                   ShapeText,
			UserLabel:               "user",
			BotLabel:                "assistant",
			SystemLabel:             "system",
			StartToken:              "<|im_start|>",
			EndToken:                "<|im_end|>",
			KeepFirstSystem:         true,
			MaskContinuations:       true,
			ContinuationPlaceholder: defaultPlaceholder,
			ProtectLastUser:         true,
			ExpectsDoneSentinel:     true,
			Sampling:                DefaultSampling(),
		},
		"proxy-chat": {
			Name:                    "proxy-chat",
			CompletionPath:          "/chat/completions",
			Shape:                   ShapeChat,
			UserLabel:               "user",
			BotLabel:                "assistant",
			SystemLabel:             "system",
			KeepFirstSystem:         true,
			MaskContinuations:       true,
			ContinuationPlaceholder: defaultPlaceholder,
			// Proxy upstreams choke on long triggering turns too, so the
			// last user turn is not protected here.
			ProtectLastUser:     false,
			ExpectsDoneSentinel: false,
			Sampling:            DefaultSampling(),
		},
		"davinci-raw": {
			Name:           "davinci-raw",
			CompletionPath: "/completions",
			Shape:          ShapeText,
			UserLabel:      "user",
			BotLabel:       "assistant",
			SystemLabel:    "system",
			// No special tokens — plain "label:\n content" rendering.
			KeepFirstSystem:         false,
			MaskContinuations:       true,
			ContinuationPlaceholder: defaultPlaceholder,
			ProtectLastUser:         true,
			ExpectsDoneSentinel:     false,
			Sampling:                DefaultSampling(),
		},
	}
}
