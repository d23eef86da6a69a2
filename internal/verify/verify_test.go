package verify

import (
	"strings"
	"testing"

	"overseer/internal/errors"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantErr bool
	}{
		{"npm test", []string{"npm", "test"}, false},
		{"npm run test", []string{"npm", "run", "test"}, false},
		{"pytest", []string{"pytest"}, false},
		{"pytest with args", []string{"pytest", "-x", "tests/"}, false},
		{"cargo test", []string{"cargo", "test"}, false},
		{"go test", []string{"go", "test", "./..."}, false},
		{"make test", []string{"make", "test"}, false},
		{"eslint", []string{"eslint", "src/"}, false},
		{"tsc", []string{"tsc", "--noEmit"}, false},

		{"empty", nil, true},
		{"arbitrary binary", []string{"rm", "-rf", "/"}, true},
		{"npm install", []string{"npm", "install"}, true},
		{"npm run build", []string{"npm", "run", "build"}, true},
		{"cargo build", []string{"cargo", "build"}, true},
		{"bare npm", []string{"npm"}, true},

		{"semicolon", []string{"pytest", "tests; rm -rf /"}, true},
		{"and-and", []string{"go", "test", "./... && curl evil"}, true},
		{"or-or", []string{"pytest", "a || b"}, true},
		{"pipe", []string{"pytest", "a | tee"}, true},
		{"backtick", []string{"pytest", "`id`"}, true},
		{"subshell", []string{"pytest", "$(id)"}, true},
		{"redirect out", []string{"pytest", "> /etc/passwd"}, true},
		{"redirect in", []string{"pytest", "< secrets"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.argv)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand(%v) error = %v, wantErr %v", tt.argv, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrCommandNotAllowed) && len(tt.argv) > 0 {
				if !errors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("error should carry ErrCommandNotAllowed or ErrInvalidInput: %v", err)
				}
			}
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	t.Run("under limit", func(t *testing.T) {
		b := &cappedBuffer{limit: 10}
		n, err := b.Write([]byte("hello"))
		if n != 5 || err != nil {
			t.Fatalf("Write = %d, %v", n, err)
		}
		if b.String() != "hello" || b.Truncated() {
			t.Errorf("buf = %q truncated=%v", b.String(), b.Truncated())
		}
	})

	t.Run("write crossing limit", func(t *testing.T) {
		b := &cappedBuffer{limit: 8}
		b.Write([]byte("hello"))
		n, err := b.Write([]byte("world"))
		if n != 5 || err != nil {
			t.Fatalf("Write = %d, %v", n, err)
		}
		if b.String() != "hellowor" {
			t.Errorf("buf = %q, want %q", b.String(), "hellowor")
		}
		if !b.Truncated() {
			t.Error("buffer should report truncation")
		}
	})

	t.Run("writes after limit discarded", func(t *testing.T) {
		b := &cappedBuffer{limit: 3}
		b.Write([]byte("abcdef"))
		b.Write([]byte("ghi"))
		if b.String() != "abc" {
			t.Errorf("buf = %q, want %q", b.String(), "abc")
		}
	})
}

func TestHasPrefix(t *testing.T) {
	if !hasPrefix([]string{"npm", "run", "test", "--silent"}, []string{"npm", "run", "test"}) {
		t.Error("prefix with extra args should match")
	}
	if hasPrefix([]string{"npm"}, []string{"npm", "test"}) {
		t.Error("shorter argv should not match longer prefix")
	}
	if hasPrefix([]string{"npm", "testx"}, []string{"npm", "test"}) {
		t.Error("element must match exactly")
	}
}

func TestResultCommandString(t *testing.T) {
	// ValidateCommand errors must carry a precise, user-facing message.
	err := ValidateCommand([]string{"deploy", "--prod"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "allow-list") {
		t.Errorf("error message should mention the allow-list: %v", err)
	}
	if !errors.IsUserFacing(err) {
		t.Error("allow-list rejection should be user facing")
	}
}
