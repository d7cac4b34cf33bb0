// Package scanner extracts Atlas project links from a page's hyperlinks.
// It never talks to the network on its own; ScanURL is a thin convenience
// wrapper that fetches the page with the caller's HTTP client first.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"golang.org/x/net/html"

	"github.com/jordanlewiz/atlas-xray/internal/models"
)

// projectPathRe matches Atlas project paths of the form
// /o/{workspaceId}/s/{sectionId}/project/{PROJECTKEY}, regardless of host.
var projectPathRe = regexp.MustCompile(`/o/([^/]+)/s/([^/]+)/project/([A-Za-z0-9][A-Za-z0-9-]*)`)

// ScanHTML parses the document and returns the deduplicated set of project
// refs found in anchor hrefs, in first-seen order. Anchors without an href
// and non-matching links are ignored.
func ScanHTML(r io.Reader) ([]models.ProjectRef, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	seen := make(map[string]bool)
	var refs []models.ProjectRef

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if ref, ok := matchHref(anchorHref(n)); ok && !seen[ref.DedupKey()] {
				seen[ref.DedupKey()] = true
				refs = append(refs, ref)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return refs, nil
}

// ScanURL fetches the page at url and scans it. The provided client's
// timeout bounds the fetch; a nil client uses http.DefaultClient.
func ScanURL(ctx context.Context, client *http.Client, url string) ([]models.ProjectRef, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	return ScanHTML(bytes.NewReader(body))
}

// anchorHref returns the anchor's href attribute, or "" if absent.
func anchorHref(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "href" {
			return a.Val
		}
	}
	return ""
}

// matchHref extracts a project ref from an href, if it matches the Atlas
// project path pattern.
func matchHref(href string) (models.ProjectRef, bool) {
	if href == "" {
		return models.ProjectRef{}, false
	}
	m := projectPathRe.FindStringSubmatch(href)
	if m == nil {
		return models.ProjectRef{}, false
	}
	return models.ProjectRef{
		WorkspaceID: m[1],
		SectionID:   m[2],
		ProjectKey:  m[3],
	}, true
}
