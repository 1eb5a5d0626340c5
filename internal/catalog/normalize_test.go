package catalog

import (
	"testing"

	"github.com/roostd/roost/internal/driver"
)

func TestUsernameFromPermanentURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://x.com/alice/status/123", "alice"},
		{"http://x.com/bob/status/456", "bob"},
		{"https://x.com/", ""},
		{"not a url", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := usernameFromPermanentURL(tc.url); got != tc.want {
			t.Fatalf("usernameFromPermanentURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestStripMarkup(t *testing.T) {
	html := `<p>hello <a href="https://x.com">world</a> &amp; friends</p>`
	if got := stripMarkup(html); got != "hello world & friends" {
		t.Fatalf("stripMarkup = %q", got)
	}
}

func TestNormalizeTweet(t *testing.T) {
	t1 := &driver.Tweet{
		ID:           "1",
		PermanentURL: "https://x.com/alice/status/1",
		HTML:         "<b>bold</b> text",
	}
	t1.InReplyToStatus = &driver.Tweet{ID: "0", InReplyToStatus: t1} // cycle

	got := normalizeTweet(t1)
	if got.Username != "alice" {
		t.Fatalf("username = %q", got.Username)
	}
	if got.Text != "bold text" {
		t.Fatalf("text = %q", got.Text)
	}
	if got.InReplyToStatus != nil {
		t.Fatal("reply backlink must be dropped")
	}

	// Present fields are never overwritten.
	t2 := &driver.Tweet{Username: "bob", Text: "kept", HTML: "<i>ignored</i>", PermanentURL: "https://x.com/alice/status/2"}
	normalizeTweet(t2)
	if t2.Username != "bob" || t2.Text != "kept" {
		t.Fatalf("normalize clobbered fields: %+v", t2)
	}

	if normalizeTweet(nil) != nil {
		t.Fatal("nil tweet must pass through")
	}
}
