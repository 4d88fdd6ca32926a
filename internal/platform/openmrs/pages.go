package openmrs

import (
	"context"
	"encoding/json"
	"fmt"
)

// Link is a REST hypermedia link.
type Link struct {
	Rel string `json:"rel"`
	URI string `json:"uri"`
}

type page struct {
	Results json.RawMessage `json:"results"`
	Links   []Link          `json:"links"`
}

// maxPages bounds how far FetchAll follows a backend's next links.
const maxPages = 100

// FetchAll reads path and follows "next" links until the last page,
// returning every result in order. A next link that repeats or is still
// pending after maxPages is an error; partial lists are never returned.
func FetchAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	start := ResourcePrefix(path)
	all := []T{}
	seen := map[string]bool{}
	for n := 0; path != ""; n++ {
		if n == maxPages {
			return nil, fmt.Errorf("%s: more than %d pages", start, maxPages)
		}
		if seen[path] {
			return nil, fmt.Errorf("%s: next link %q repeats", start, path)
		}
		seen[path] = true

		var p page
		if err := c.Get(ctx, path, &p); err != nil {
			return nil, err
		}
		if len(p.Results) > 0 {
			var items []T
			if err := json.Unmarshal(p.Results, &items); err != nil {
				return nil, err
			}
			all = append(all, items...)
		}

		path = ""
		for _, l := range p.Links {
			if l.Rel == "next" && l.URI != "" {
				next, err := c.relativePath(l.URI)
				if err != nil {
					return nil, err
				}
				path = next
				break
			}
		}
	}
	return all, nil
}
