package turn

import (
	"strings"

	"github.com/MrWong99/glyphoxa/internal/session"
)

// commandOpenTag is the markup that terminates the visible stream for the
// remainder of a turn.
const commandOpenTag = "<command>"

// Filter is the stateful chunk sink that strips
// <command>...</command> tool-call markup out of a chunked LLM text stream so
// the literal substring "<command>" never reaches a transport. The idiom —
// accumulate chunks into a buffer, scan for a boundary, flush the clean
// prefix eagerly, carry over anything that might straddle the next chunk — is
// the same shape as a sentence-boundary scanner, generalized from sentence
// punctuation to a fixed opening tag.
//
// A Filter is created fresh for each turn and driven from a single goroutine;
// it is not safe for concurrent use.
type Filter struct {
	sess *session.Session
	held string // bytes withheld because they might be a straddling tag prefix
}

// NewFilter creates a Filter bound to sess, resetting the session's
// streaming-filter state.
func NewFilter(sess *session.Session) *Filter {
	sess.ResetStreamState()
	return &Filter{sess: sess}
}

// Feed processes one chunk of raw model text and returns the portion that
// should be forwarded to the transport. Once an opening tag has been
// observed, Feed always returns "" for the rest of the turn.
func (f *Filter) Feed(chunk string) string {
	inTag, hadData, _ := f.sess.StreamState()
	if inTag {
		return ""
	}
	if chunk == "" {
		return ""
	}

	text := f.held + chunk
	f.held = ""

	if idx := strings.Index(text, commandOpenTag); idx >= 0 {
		visible := text[:idx]
		// stream_had_content becomes true either on the first emitted byte
		// or when the tag itself is seen — either way the filter has taken
		// an action that rules out the non-streaming fallback path.
		f.sess.SetStreamState(true, true, true)
		return visible
	}

	keep := longestOpenTagPrefixSuffixLen(text)
	visible := text[:len(text)-keep]
	f.held = text[len(text)-keep:]
	if visible != "" {
		hadData = true
	}
	f.sess.SetStreamState(false, hadData, true)
	return visible
}

// Finish flushes any bytes withheld while waiting to see whether they were a
// straddling tag prefix — end of stream resolves the ambiguity in the
// negative — and marks the stream inactive. It returns whether this filter
// ever produced visible content or saw a command tag.
func (f *Filter) Finish() (trailing string, hadContent bool) {
	inTag, hadData, _ := f.sess.StreamState()
	trailing = f.held
	f.held = ""
	if inTag {
		trailing = ""
	} else if trailing != "" {
		hadData = true
	}
	f.sess.SetStreamState(inTag, hadData, false)
	return trailing, hadData
}

// HadContent reports whether this filter has emitted at least one visible
// byte or observed a command tag at any point in the turn so far.
func (f *Filter) HadContent() bool {
	_, hadData, _ := f.sess.StreamState()
	return hadData
}

// InCommandTag reports whether this filter has observed an opening tag.
func (f *Filter) InCommandTag() bool {
	inTag, _, _ := f.sess.StreamState()
	return inTag
}

// longestOpenTagPrefixSuffixLen returns the length of the longest suffix of
// text that is also a proper prefix of commandOpenTag — the number of
// trailing bytes that must be withheld because a later chunk could complete
// them into the full tag. Returns 0 if text contains no such suffix.
func longestOpenTagPrefixSuffixLen(text string) int {
	max := len(commandOpenTag) - 1
	if max > len(text) {
		max = len(text)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(text, commandOpenTag[:l]) {
			return l
		}
	}
	return 0
}
