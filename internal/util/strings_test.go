package util

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"longer than max", "hello world", 8, "hello..."},
		{"tiny max", "hello", 3, "..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"newlines", "line one\nline two", "line one line two"},
		{"crlf", "a\r\nb", "a  b"},
		{"tabs", "a\tb", "a b"},
		{"control chars", "a\x00b\x1bc", "abc"},
		{"leading trailing", "  padded  ", "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeLine(tt.input); got != tt.want {
				t.Errorf("SanitizeLine(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTailLines(t *testing.T) {
	input := "a\nb\nc\nd\n"
	if got := TailLines(input, 2); got != "c\nd" {
		t.Errorf("TailLines = %q, want %q", got, "c\nd")
	}
	if got := TailLines(input, 10); got != "a\nb\nc\nd" {
		t.Errorf("TailLines = %q, want %q", got, "a\nb\nc\nd")
	}
	if got := TailLines(input, 0); got != "" {
		t.Errorf("TailLines with n=0 = %q, want empty", got)
	}
}

func TestCountLines(t *testing.T) {
	if got := CountLines("a\n\nb\n"); got != 2 {
		t.Errorf("CountLines = %d, want 2", got)
	}
}
