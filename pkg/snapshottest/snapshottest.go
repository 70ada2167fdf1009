// Package snapshottest writes a small, fixed snapshot for tests of packages
// that need a real source on disk.
package snapshottest

import (
	"context"
	"strings"
	"testing"

	"github.com/rmax-ai/mhive/pkg/source"
)

const Categories = `{
  "version": "1",
  "root": {"id": "root", "children": ["cat-disaster", "cat-crime"]},
  "nodes": {
    "cat-disaster": {"id": "cat-disaster", "name": "Disaster", "level": 1, "children": ["cat-disaster-nuclear"], "path": "disaster"},
    "cat-disaster-nuclear": {"id": "cat-disaster-nuclear", "name": "Nuclear", "level": 2, "parentId": "cat-disaster", "path": "disaster/nuclear"},
    "cat-crime": {"id": "cat-crime", "name": "Crime", "level": 1, "path": "crime"}
  }
}`

const Index = `{
  "version": "1",
  "generatedAt": "2024-01-01T00:00:00Z",
  "incidents": [
    {"id": "inc-0001", "label": "Chernobyl disaster", "category": "disaster", "categoryId": "cat-disaster-nuclear", "era": "contemporary", "date": "1986-04-26", "location": "Pripyat", "tags": ["nuclear"]},
    {"id": "inc-0002", "label": "Fukushima accident", "category": "disaster", "categoryId": "cat-disaster-nuclear", "era": "contemporary", "date": "2011-03-11", "tags": ["nuclear"]},
    {"id": "inc-0003", "label": "Whitechapel murders", "category": "crime", "categoryId": "cat-crime", "era": "modern", "date": "1888-08-31", "location": "London"},
    {"id": "inc-0004", "title": "Titanic sinking", "category": "disaster", "date": "1912-04-15", "tags": ["maritime"]}
  ],
  "persons": [
    {"id": "per-ripper", "name": "Jack the Ripper"}
  ],
  "locations": [
    {"id": "loc-pripyat", "name": "Pripyat"},
    {"id": "loc-london", "name": "London"}
  ]
}`

const Relations = `{
  "version": "1",
  "total": 5,
  "edges": [
    {"id": "e1", "source": "inc-0001", "target": "loc-pripyat", "relationType": "OCCURRED_AT"},
    {"id": "e2", "source": "inc-0002", "target": "inc-0001", "relationType": "SIMILAR_TO"},
    {"id": "e3", "source": "per-ripper", "target": "inc-0003", "relationType": "PERPETRATOR_OF"},
    {"id": "e4", "source": "inc-0003", "target": "loc-london", "relationType": "OCCURRED_AT"},
    {"id": "e5", "source": "inc-0001", "target": "per-ghost", "relationType": "INVOLVED_IN"}
  ]
}`

const ChernobylDetail = `{"id": "inc-0001", "title": "Chernobyl disaster", "date": "1986-04-26", "country": "Ukraine", "casualties": {"deaths": 31}, "tags": ["nuclear"]}`

const PripyatDetail = `{"id": "loc-pripyat", "name": "Pripyat", "country": "Ukraine"}`

// Files maps snapshot keys to their contents.
var Files = map[string]string{
	"categories.json":            Categories,
	"index.json":                 Index,
	"relations.json":             Relations,
	"incidents/inc-0001.json":    ChernobylDetail,
	"locations/loc-pripyat.json": PripyatDetail,
}

// Write stores every fixture file under a fresh temporary directory and
// returns a source rooted there.
func Write(t testing.TB) *source.LocalSource {
	t.Helper()
	src := source.NewLocalSource(t.TempDir())
	for key, body := range Files {
		if err := src.Put(context.Background(), key, strings.NewReader(body)); err != nil {
			t.Fatalf("write fixture %s: %v", key, err)
		}
	}
	return src
}
