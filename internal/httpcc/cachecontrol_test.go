package httpcc

import "testing"

func TestParseTokensAndValues(t *testing.T) {
	d := Parse(`no-cache, max-age=30, must-revalidate`)
	if !d.Has("no-cache") {
		t.Fatal("expected no-cache token")
	}
	if !d.Has("must-revalidate") {
		t.Fatal("expected must-revalidate token")
	}
	v, ok := d.Value("max-age")
	if !ok || v != "30" {
		t.Fatalf("expected max-age=30, got %q ok=%v", v, ok)
	}
}

func TestParseEmptyHeader(t *testing.T) {
	d := Parse("")
	if !d.Empty() {
		t.Fatal("expected empty Directives for empty header")
	}
}

func TestParseCaseInsensitiveDirectiveNames(t *testing.T) {
	d := Parse("No-Cache, Max-Age=10")
	if !d.Has("no-cache") {
		t.Fatal("directive names must be case-insensitive")
	}
	if _, ok := d.Value("max-age"); !ok {
		t.Fatal("value directive names must be case-insensitive")
	}
}

func TestParseBareDirectiveHasNoValue(t *testing.T) {
	d := Parse("max-stale")
	if _, ok := d.Value("max-stale"); ok {
		t.Fatal("bare max-stale must not report a value")
	}
	if !d.Has("max-stale") {
		t.Fatal("bare max-stale must be present as a token")
	}
}

func TestParseQuotedValue(t *testing.T) {
	d := Parse(`private="X-Custom"`)
	v, ok := d.Value("private")
	if !ok || v != "X-Custom" {
		t.Fatalf("expected quoted value to be unquoted, got %q ok=%v", v, ok)
	}
}
