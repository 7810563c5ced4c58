package agent

import "testing"

func TestToolTagFilter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{
			name:   "no tags pass through",
			chunks: []string{"hello ", "world"},
			want:   "hello world",
		},
		{
			name:   "tag in one chunk removed",
			chunks: []string{"before <tool_call>{\"name\":\"x\"}</tool_call> after"},
			want:   "before  after",
		},
		{
			name:   "open tag split across chunks",
			chunks: []string{"text <tool_", "call>hidden</tool_call>done"},
			want:   "text done",
		},
		{
			name:   "close tag split across chunks",
			chunks: []string{"<tool_call>hidden</tool_", "call>visible"},
			want:   "visible",
		},
		{
			name:   "tag body split across many chunks",
			chunks: []string{"a<tool_call>", "part1", "part2", "</tool_call>b"},
			want:   "ab",
		},
		{
			name:   "false prefix released",
			chunks: []string{"less than <tool", " sign"},
			want:   "less than <tool sign",
		},
		{
			name:   "unclosed tag dropped at flush",
			chunks: []string{"visible<tool_call>never closed"},
			want:   "visible",
		},
		{
			name:   "trailing partial open released at flush",
			chunks: []string{"ends with <tool_"},
			want:   "ends with <tool_",
		},
		{
			name:   "multiple tags",
			chunks: []string{"a<tool_call>1</tool_call>b<tool_call>2</tool_call>c"},
			want:   "abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &toolTagFilter{}
			got := ""
			for _, c := range tt.chunks {
				got += f.Feed(c)
			}
			got += f.Flush()
			if got != tt.want {
				t.Errorf("filtered = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSuffixPrefixLen(t *testing.T) {
	tests := []struct {
		s    string
		tag  string
		want int
	}{
		{"abc<tool_", "<tool_call>", 6},
		{"abc", "<tool_call>", 0},
		{"abc<", "<tool_call>", 1},
		{"<tool_call", "<tool_call>", 10},
		{"", "<tool_call>", 0},
	}
	for _, tt := range tests {
		if got := suffixPrefixLen(tt.s, tt.tag); got != tt.want {
			t.Errorf("suffixPrefixLen(%q) = %d, want %d", tt.s, got, tt.want)
		}
	}
}
