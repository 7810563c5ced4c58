package agent

import "strings"

const (
	toolTagOpen  = "<tool_call>"
	toolTagClose = "</tool_call>"
)

// toolTagFilter strips <tool_call>...</tool_call> spans from streamed
// content as it arrives. Tags can split across chunk boundaries, so the
// filter holds back any trailing text that could still turn out to be a
// tag prefix and releases it once disambiguated.
type toolTagFilter struct {
	inside  bool
	pending string
}

// Feed consumes one chunk and returns the text safe to show now.
func (f *toolTagFilter) Feed(chunk string) string {
	data := f.pending + chunk
	f.pending = ""

	var out strings.Builder
	for {
		if f.inside {
			idx := strings.Index(data, toolTagClose)
			if idx < 0 {
				// Discard tag body, keep a possible close-tag prefix.
				keep := suffixPrefixLen(data, toolTagClose)
				f.pending = data[len(data)-keep:]
				return out.String()
			}
			data = data[idx+len(toolTagClose):]
			f.inside = false
			continue
		}

		idx := strings.Index(data, toolTagOpen)
		if idx < 0 {
			keep := suffixPrefixLen(data, toolTagOpen)
			out.WriteString(data[:len(data)-keep])
			f.pending = data[len(data)-keep:]
			return out.String()
		}
		out.WriteString(data[:idx])
		data = data[idx+len(toolTagOpen):]
		f.inside = true
	}
}

// Flush ends the stream. Held-back text outside a tag was real content;
// text inside an unclosed tag is dropped.
func (f *toolTagFilter) Flush() string {
	if f.inside {
		f.pending = ""
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}

// suffixPrefixLen returns the longest k < len(tag) such that the last k
// bytes of s equal the first k bytes of tag.
func suffixPrefixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if s[len(s)-k:] == tag[:k] {
			return k
		}
	}
	return 0
}
