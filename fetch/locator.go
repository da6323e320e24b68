package fetch

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
)

// DefaultImageURLPattern matches the line of the strip site's homepage that
// carries the current strip. Capture group 1 is the image URL.
const DefaultImageURLPattern = `^.*<img .*src="((?:https?:)?//assets\.amuniversal\.com/[[:alnum:]]{32})".*$`

// contentImagePattern finds the first <img> in feed item markup.
var contentImagePattern = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)

// maxLineBytes bounds a single homepage line; minified pages can be long.
const maxLineBytes = 4 << 20

// ImageLocator finds the strip image URL in a fetched homepage.
type ImageLocator interface {
	Locate(base *url.URL, body io.Reader) (string, error)
}

// RegexpLocator scans the page line by line; the first matching line wins.
type RegexpLocator struct {
	pattern *regexp.Regexp
}

// NewRegexpLocator compiles expr, which must have at least one capture group.
func NewRegexpLocator(expr string) (*RegexpLocator, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("image URL pattern %q has no capture group", expr)
	}
	return &RegexpLocator{pattern: re}, nil
}

// Pattern returns the source of the compiled expression.
func (l *RegexpLocator) Pattern() string {
	return l.pattern.String()
}

// Locate implements ImageLocator.
func (l *RegexpLocator) Locate(base *url.URL, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		m := l.pattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		return resolveImageURL(base, m[1])
	}
	if err := scanner.Err(); err != nil {
		return "", networkError(base.String(), err)
	}
	return "", &FetchError{
		Kind:   ErrNoImageURLFound,
		URL:    base.String(),
		Reason: fmt.Sprintf("didn't match regular expression %s to any line in the homepage content", l.pattern),
	}
}

// FeedLocator reads the homepage as an RSS or Atom feed and picks the image
// of its newest item.
type FeedLocator struct {
	parser *gofeed.Parser
}

// NewFeedLocator creates a FeedLocator.
func NewFeedLocator() *FeedLocator {
	return &FeedLocator{parser: gofeed.NewParser()}
}

// Locate implements ImageLocator.
func (l *FeedLocator) Locate(base *url.URL, body io.Reader) (string, error) {
	feed, err := l.parser.Parse(body)
	if err != nil {
		return "", &FetchError{Kind: ErrNoImageURLFound, URL: base.String(), Reason: "failed to parse feed", Err: err}
	}

	item := newestItem(feed.Items)
	if item == nil {
		return "", &FetchError{Kind: ErrNoImageURLFound, URL: base.String(), Reason: "feed has no items"}
	}

	if raw := itemImage(item); raw != "" {
		return resolveImageURL(base, raw)
	}
	return "", &FetchError{Kind: ErrNoImageURLFound, URL: base.String(), Reason: fmt.Sprintf("no image in feed item %q", item.Title)}
}

func newestItem(items []*gofeed.Item) *gofeed.Item {
	var newest *gofeed.Item
	for _, item := range items {
		if newest == nil {
			newest = item
			continue
		}
		if item.PublishedParsed != nil && newest.PublishedParsed != nil &&
			item.PublishedParsed.After(*newest.PublishedParsed) {
			newest = item
		}
	}
	return newest
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, markup := range []string{item.Content, item.Description} {
		if m := contentImagePattern.FindStringSubmatch(markup); m != nil {
			return m[1]
		}
	}
	return ""
}

// resolveImageURL turns a matched reference into an absolute http(s) URL.
func resolveImageURL(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", &FetchError{Kind: ErrNoImageURLFound, URL: base.String(), Reason: fmt.Sprintf("unparseable image URL %q", raw), Err: err}
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", &FetchError{Kind: ErrNoImageURLFound, URL: base.String(), Reason: fmt.Sprintf("unsupported image URL %q", raw)}
	}
	return resolved.String(), nil
}
