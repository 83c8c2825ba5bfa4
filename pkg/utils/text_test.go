package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if Truncate("日本語テキスト", 3) != "日本語..." {
		t.Errorf("got %s", Truncate("日本語テキスト", 3))
	}
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"Hello,  World!":     "hello world",
		"  invoice #42\n":    "invoice 42",
		"":                   "",
		"Total-Amount: $9.5": "total amount 9 5",
	}
	for in, want := range tests {
		if got := NormalizeText(in); got != want {
			t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
