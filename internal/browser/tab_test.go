package browser

import (
	"context"
	"testing"
)

func TestCheckWatchURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"watch", "https://www.youtube.com/watch?v=abc123", true},
		{"extra_params", "https://www.youtube.com/watch?list=PL1&v=abc123&t=42", true},
		{"no_id", "https://www.youtube.com/watch", false},
		{"channel", "https://www.youtube.com/@gophers", false},
		{"scheme", "ftp://www.youtube.com/watch?v=abc123", false},
		{"relative", "/watch?v=abc123", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckWatchURL(tc.raw)
			if (err == nil) != tc.ok {
				t.Fatalf("CheckWatchURL(%q) = %v, want ok=%v", tc.raw, err, tc.ok)
			}
		})
	}
}

func TestOpenTabRejectsBadURLBeforeConnecting(t *testing.T) {
	if _, err := OpenTab(context.Background(), "http://127.0.0.1:1", "https://www.youtube.com/"); err == nil {
		t.Fatal("OpenTab() error = nil; want url validation error")
	}
}
