package toolbox

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// maxPageRunes caps the text returned to the model from a fetched page.
const maxPageRunes = 8000

// WebTools fetches pages and reduces them to readable text.
type WebTools struct {
	client *http.Client
	// allowLocal permits loopback and private-network targets, so a
	// prompted fetch cannot probe the machine the agent runs on.
	allowLocal bool
}

func NewWebTools(client *http.Client) *WebTools {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebTools{client: client}
}

func (w *WebTools) Definitions() ([]*tools.Definition, error) {
	fetchPage, err := tools.NewToolFromFunc("fetch_page",
		"Fetch a web page and return its title and readable text content. Long pages are truncated.",
		w.fetchPage)
	if err != nil {
		return nil, err
	}
	return []*tools.Definition{fetchPage}, nil
}

type fetchPageInput struct {
	URL string `json:"url" jsonschema:"required,description=The http(s) URL to fetch."`
}

func (w *WebTools) fetchPage(ctx context.Context, in fetchPageInput) map[string]any {
	if err := w.validateURL(in.URL); err != nil {
		return errorResult(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return errorResult(err.Error())
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return errorResult(err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult(fmt.Sprintf("request failed with status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errorResult(err.Error())
	}

	doc.Find("script, style, noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := collapseWhitespace(doc.Find("body").Text())

	truncated := false
	if runes := []rune(text); len(runes) > maxPageRunes {
		text = string(runes[:maxPageRunes])
		truncated = true
	}

	return map[string]any{
		"status":    "success",
		"url":       in.URL,
		"title":     title,
		"text":      text,
		"truncated": truncated,
	}
}

// validateURL rejects anything but plain web URLs. When the host is an IP
// literal, network restrictions are enforced without a DNS lookup.
func (w *WebTools) validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("URL host is required")
	}
	if w.allowLocal {
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return errors.Errorf("local hostname %q is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.Zone() != "" || addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Errorf("disallowed IP address %q", host)
		}
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			return errors.Errorf("local network IP %q is not allowed", host)
		}
	}

	return nil
}

// collapseWhitespace flattens runs of whitespace into single spaces while
// keeping paragraph breaks, so page text stays compact but readable.
func collapseWhitespace(s string) string {
	var sb strings.Builder
	lines := strings.Split(s, "\n")
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			continue
		}
		if sb.Len() > 0 {
			if blank > 0 {
				sb.WriteString("\n")
			} else {
				sb.WriteString(" ")
			}
		}
		blank = 0
		sb.WriteString(line)
	}
	return sb.String()
}
