package search

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFindAll(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		pattern string
		want    []int
	}{
		{"overlapping pairs", "xababx", "ab", []int{1, 3}},
		{"self overlap", "aaaa", "aa", []int{0, 1, 2}},
		{"no match", "hello", "xyz", nil},
		{"pattern longer than data", "ab", "abc", nil},
		{"empty pattern", "abc", "", nil},
		{"whole input", "abc", "abc", []int{0}},
		{"at end", "xxab", "ab", []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindAll([]byte(tt.data), []byte(tt.pattern))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindAll(%q, %q) = %v, want %v", tt.data, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestContextWindowClipsToBounds(t *testing.T) {
	data := []byte("0123456789abcdefghijKEYklmnopqrstuvwxyz0123456789")
	start := bytes.Index(data, []byte("KEY"))
	got := ContextWindow(data, start, start+3, 20)
	if got != "0123456789abcdefghijKEYklmnopqrstuvwxyz0123" {
		t.Errorf("window = %q", got)
	}

	got = ContextWindow([]byte("KEY tail"), 0, 3, 20)
	if got != "KEY tail" {
		t.Errorf("clipped window = %q", got)
	}
}

func TestContextWindowDropsCutRunes(t *testing.T) {
	// "é" is two bytes; a window starting or ending between them must drop
	// the half rather than emit a replacement character.
	data := []byte("éé" + "xx" + "ab" + "xx" + "éé")
	start := bytes.Index(data, []byte("ab"))
	got := ContextWindow(data, start, start+2, 3)
	if got != "xxabxx" {
		t.Errorf("window = %q, want %q", got, "xxabxx")
	}
	if !utf8.ValidString(got) {
		t.Error("window is not valid UTF-8")
	}
}

func TestContextWindowReplacesInteriorGarbage(t *testing.T) {
	data := []byte("ok\xffab\xfeok")
	start := bytes.Index(data, []byte("ab"))
	got := ContextWindow(data, start, start+2, 20)
	if !utf8.ValidString(got) {
		t.Fatalf("window %q is not valid UTF-8", got)
	}
	if strings.Count(got, "�") != 2 || !strings.Contains(got, "ab") {
		t.Errorf("window = %q, want two replacement characters around ab", got)
	}
}

func BenchmarkFindAll(b *testing.B) {
	data := bytes.Repeat([]byte("lorem ipsum dolor sit amet, consectetur adipiscing elit. "), 20000)
	pattern := []byte("adipiscing")
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FindAll(data, pattern)
	}
}

func BenchmarkContextWindow(b *testing.B) {
	data := bytes.Repeat([]byte("héllo wörld "), 100)
	for i := 0; i < b.N; i++ {
		ContextWindow(data, 500, 505, 20)
	}
}
