package crawler

import (
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	t.Run("Canonicalizes scheme, host, port and trailing slash", func(t *testing.T) {
		got, ok := NormalizeURL("HTTPS://Example.COM:443/Page/")
		if !ok {
			t.Fatal("Expected URL to be accepted")
		}
		if got != "https://example.com/Page" {
			t.Errorf("Expected https://example.com/Page, got %s", got)
		}
	})

	t.Run("Preserves path case", func(t *testing.T) {
		got, ok := NormalizeURL("http://example.com/About/Team")
		if !ok {
			t.Fatal("Expected URL to be accepted")
		}
		if got != "http://example.com/About/Team" {
			t.Errorf("Path case must be preserved, got %s", got)
		}
	})

	t.Run("Strips fragments", func(t *testing.T) {
		got, _ := NormalizeURL("https://example.com/docs#section-2")
		if got != "https://example.com/docs" {
			t.Errorf("Expected fragment stripped, got %s", got)
		}
	})

	t.Run("Strips default port only", func(t *testing.T) {
		got, _ := NormalizeURL("http://example.com:80/a")
		if got != "http://example.com/a" {
			t.Errorf("Expected default port stripped, got %s", got)
		}

		got, _ = NormalizeURL("http://example.com:8080/a")
		if got != "http://example.com:8080/a" {
			t.Errorf("Non-default port must be kept, got %s", got)
		}
	})

	t.Run("Root path collapses to bare host", func(t *testing.T) {
		a, _ := NormalizeURL("https://example.com/")
		b, _ := NormalizeURL("https://example.com")
		if a != b {
			t.Errorf("Root with and without slash must normalize equal: %s vs %s", a, b)
		}
	})

	t.Run("Rejects non-http schemes", func(t *testing.T) {
		for _, raw := range []string{
			"javascript:void(0)",
			"mailto:team@example.com",
			"data:image/png;base64,iVBOR",
			"ftp://example.com/file",
			"file:///etc/passwd",
		} {
			if _, ok := NormalizeURL(raw); ok {
				t.Errorf("Expected %q to be rejected", raw)
			}
		}
	})

	t.Run("Rejects empty and unparseable input", func(t *testing.T) {
		if _, ok := NormalizeURL(""); ok {
			t.Error("Expected empty input to be rejected")
		}
		if _, ok := NormalizeURL("http://["); ok {
			t.Error("Expected unparseable input to be rejected")
		}
	})

	t.Run("Is idempotent", func(t *testing.T) {
		inputs := []string{
			"HTTPS://Example.COM:443/Page/",
			"http://www.example.com/a/b/?q=1",
			"https://example.com/#top",
		}
		for _, raw := range inputs {
			once, ok := NormalizeURL(raw)
			if !ok {
				t.Fatalf("Expected %q to be accepted", raw)
			}
			twice, ok := NormalizeURL(once)
			if !ok {
				t.Fatalf("Normalized form %q must still be accepted", once)
			}
			if once != twice {
				t.Errorf("Normalization not idempotent: %s -> %s", once, twice)
			}
		}
	})
}

func TestSameRegistrableHost(t *testing.T) {
	if !SameRegistrableHost("https://www.example.com/a", "https://example.com/b") {
		t.Error("www prefix must not split the host")
	}
	if SameRegistrableHost("https://example.com", "https://other.com") {
		t.Error("Different hosts must not match")
	}
}
