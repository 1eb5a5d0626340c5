package catalog

import (
	"regexp"
	"strings"

	"github.com/roostd/roost/internal/driver"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes tags from an HTML fragment and unescapes the few
// entities the upstream emits in tweet bodies.
func stripMarkup(html string) string {
	text := tagRe.ReplaceAllString(html, "")
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(text))
}

// usernameFromPermanentURL extracts the username from a status URL, whose
// shape is https://<host>/<username>/status/<id>.
func usernameFromPermanentURL(permanentURL string) string {
	rest, ok := strings.CutPrefix(permanentURL, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(permanentURL, "http://")
		if !ok {
			return ""
		}
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// normalizeTweet applies the passthrough fixes: username recovered from the
// permanent URL, text recovered from HTML, and the reply backlink dropped
// to break reference cycles.
func normalizeTweet(t *driver.Tweet) *driver.Tweet {
	if t == nil {
		return nil
	}
	if t.Username == "" && t.PermanentURL != "" {
		t.Username = usernameFromPermanentURL(t.PermanentURL)
	}
	if t.Text == "" && t.HTML != "" {
		t.Text = stripMarkup(t.HTML)
	}
	t.InReplyToStatus = nil
	return t
}

func normalizeTweets(tweets []*driver.Tweet) []*driver.Tweet {
	for _, t := range tweets {
		normalizeTweet(t)
	}
	return tweets
}
