package graph

import "encoding/json"

// IndexEntry is the lightweight per-entity summary loaded at startup.
type IndexEntry struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type,omitempty"`
	Label       string     `json:"label"`
	Category    string     `json:"category,omitempty"`
	SubCategory string     `json:"subCategory,omitempty"`
	CategoryID  string     `json:"categoryId,omitempty"`
	Era         string     `json:"era,omitempty"`
	Date        string     `json:"date,omitempty"`
	Location    string     `json:"location,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	EdgeCount   int        `json:"edgeCount,omitempty"`
}

// UnmarshalJSON accepts "title" or "name" in place of "label", as older
// index exports used them.
func (e *IndexEntry) UnmarshalJSON(data []byte) error {
	type alias IndexEntry
	aux := struct {
		*alias
		Title string `json:"title"`
		Name  string `json:"name"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.Label == "" {
		if aux.Title != "" {
			e.Label = aux.Title
		} else {
			e.Label = aux.Name
		}
	}
	return nil
}

// IndexStats are the aggregate figures published with the index.
type IndexStats struct {
	TotalIncidents int            `json:"totalIncidents"`
	TotalEntities  int            `json:"totalEntities"`
	TotalRelations int            `json:"totalRelations"`
	ByCategory     map[string]int `json:"byCategory,omitempty"`
	ByEra          map[string]int `json:"byEra,omitempty"`
}

// IndexDocument is the wire form of index.json.
type IndexDocument struct {
	Version       string       `json:"version"`
	GeneratedAt   string       `json:"generatedAt"`
	Stats         IndexStats   `json:"stats"`
	Incidents     []IndexEntry `json:"incidents"`
	Persons       []IndexEntry `json:"persons"`
	Locations     []IndexEntry `json:"locations"`
	Phenomena     []IndexEntry `json:"phenomena"`
	Organizations []IndexEntry `json:"organizations"`
	Equipment     []IndexEntry `json:"equipment"`
}

// Entries returns every summary in canonical order, stamping each entry's
// type from the array it was listed in.
func (d *IndexDocument) Entries() []IndexEntry {
	groups := []struct {
		t       EntityType
		entries []IndexEntry
	}{
		{TypeIncident, d.Incidents},
		{TypePerson, d.Persons},
		{TypeLocation, d.Locations},
		{TypePhenomenon, d.Phenomena},
		{TypeOrganization, d.Organizations},
		{TypeEquipment, d.Equipment},
	}

	var out []IndexEntry
	for _, g := range groups {
		for _, e := range g.entries {
			e.Type = g.t
			out = append(out, e)
		}
	}
	return out
}

// Index is the loaded, queryable form of the index document. It is
// read-only once built.
type Index struct {
	Version     string
	GeneratedAt string
	Stats       IndexStats

	entries []IndexEntry
	byID    map[string]int
}

// NewIndex builds an Index. Entries without an id are skipped; for
// duplicate ids the first entry wins.
func NewIndex(doc *IndexDocument) *Index {
	ix := &Index{
		Version:     doc.Version,
		GeneratedAt: doc.GeneratedAt,
		Stats:       doc.Stats,
		byID:        make(map[string]int),
	}
	for _, e := range doc.Entries() {
		if e.ID == "" {
			continue
		}
		if _, dup := ix.byID[e.ID]; dup {
			continue
		}
		ix.byID[e.ID] = len(ix.entries)
		ix.entries = append(ix.entries, e)
	}
	return ix
}

// Lookup returns the entry for id.
func (ix *Index) Lookup(id string) (IndexEntry, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return IndexEntry{}, false
	}
	return ix.entries[i], true
}

// Has reports whether id has an index entry.
func (ix *Index) Has(id string) bool {
	_, ok := ix.byID[id]
	return ok
}

// Entries returns all entries in canonical order. Callers must not modify
// the returned slice.
func (ix *Index) Entries() []IndexEntry {
	return ix.entries
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Incidents returns the incident entries in index order.
func (ix *Index) Incidents() []IndexEntry {
	var out []IndexEntry
	for _, e := range ix.entries {
		if e.Type == TypeIncident {
			out = append(out, e)
		}
	}
	return out
}
