// Package index lists artifacts published for a project. Only find-links
// locations are supported: local directories and flat HTML pages whose
// anchors point at wheels and source archives.
package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/requirement"
	"github.com/wheelwright/wheelwright/pkg/tags"
)

// Entry is one artifact an index offers.
type Entry struct {
	Link    link.Link
	Name    string
	Version string
	// RequiresPython is the data-requires-python attribute of the anchor.
	RequiresPython string
}

type Index interface {
	// Find returns the entries whose name matches req and whose version
	// satisfies its specifier. Compatibility with a target is not checked.
	Find(ctx context.Context, req *requirement.Requirement) ([]Entry, error)
}

// FindLinks reads artifact links from directories and HTML pages.
type FindLinks struct {
	Locations []string
	Client    *http.Client
}

var _ Index = &FindLinks{}

// NewFindLinks returns a FindLinks over locations: directory paths,
// file:// URLs or http(s):// pages.
func NewFindLinks(locations ...string) *FindLinks {
	return &FindLinks{Locations: locations, Client: http.DefaultClient}
}

func (f *FindLinks) Find(ctx context.Context, req *requirement.Requirement) ([]Entry, error) {
	want := requirement.NormalizeName(req.Name)
	var out []Entry
	for _, loc := range f.Locations {
		entries, err := f.entries(ctx, loc)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if requirement.NormalizeName(e.Name) != want {
				continue
			}
			if !req.Specifier.Contains(e.Version) {
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// entries lists every recognisable artifact at loc. Files whose names do
// not parse are skipped rather than failing the listing.
func (f *FindLinks) entries(ctx context.Context, loc string) ([]Entry, error) {
	if dir, ok := localDir(loc); ok {
		return dirEntries(dir)
	}
	base, body, err := f.page(ctx, loc)
	if err != nil {
		return nil, err
	}
	return pageEntries(ctx, base, body), nil
}

func localDir(loc string) (string, bool) {
	p := loc
	if strings.HasPrefix(loc, "file:") {
		p = link.New(loc).FilePath()
	} else if strings.Contains(loc, "://") {
		return "", false
	}
	info, err := os.Stat(p)
	return p, err == nil && info.IsDir()
}

func dirEntries(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var out []Entry
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		l, err := link.FromPath(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		if e, ok := entryFor(l, ""); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FindLinks) page(ctx context.Context, loc string) (*url.URL, string, error) {
	base, err := url.Parse(loc)
	if err != nil {
		return nil, "", fmt.Errorf("invalid find-links location %q: %w", loc, err)
	}
	if base.Scheme == "file" {
		data, err := os.ReadFile(link.New(loc).FilePath())
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", loc, err)
		}
		return base, string(data), nil
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request for %s: %w", loc, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", loc, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: status %d", loc, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", loc, err)
	}
	return base, string(data), nil
}

func pageEntries(ctx context.Context, base *url.URL, body string) []Entry {
	log := logging.FromContext(ctx)
	var out []Entry
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tag := z.Token()
		if tag.Data != "a" {
			continue
		}
		var href, requiresPython string
		for _, a := range tag.Attr {
			switch a.Key {
			case "href":
				href = a.Val
			case "data-requires-python":
				requiresPython = a.Val
			}
		}
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			log.Debug("skipping unparseable link", "href", href)
			continue
		}
		if e, ok := entryFor(link.New(base.ResolveReference(ref).String()), requiresPython); ok {
			out = append(out, e)
		} else {
			log.Debug("skipping link with unrecognised file name", "href", href)
		}
	}
}

func entryFor(l link.Link, requiresPython string) (Entry, bool) {
	name, version, ok := tags.NameVersion(l)
	if !ok {
		return Entry{}, false
	}
	return Entry{Link: l, Name: name, Version: version, RequiresPython: requiresPython}, true
}
