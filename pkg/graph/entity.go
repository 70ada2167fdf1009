package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EntityType is the variant tag of an entity in the knowledge graph.
type EntityType string

const (
	TypeIncident     EntityType = "incident"
	TypeLocation     EntityType = "location"
	TypePhenomenon   EntityType = "phenomenon"
	TypeOrganization EntityType = "organization"
	TypePerson       EntityType = "person"
	TypeEquipment    EntityType = "equipment"
	TypeCategory     EntityType = "category"
)

// EntityTypes lists every variant in canonical index order.
var EntityTypes = []EntityType{
	TypeIncident,
	TypePerson,
	TypeLocation,
	TypePhenomenon,
	TypeOrganization,
	TypeEquipment,
	TypeCategory,
}

var typePrefixes = map[EntityType]string{
	TypeIncident:     "inc-",
	TypeLocation:     "loc-",
	TypePhenomenon:   "phe-",
	TypeOrganization: "org-",
	TypePerson:       "per-",
	TypeEquipment:    "equ-",
	TypeCategory:     "cat-",
}

var typeDirs = map[EntityType]string{
	TypeIncident:     "incidents",
	TypeLocation:     "locations",
	TypePhenomenon:   "phenomena",
	TypeOrganization: "organizations",
	TypePerson:       "persons",
	TypeEquipment:    "equipment",
	TypeCategory:     "categories",
}

// Prefix returns the id prefix that encodes this type.
func (t EntityType) Prefix() string {
	return typePrefixes[t]
}

// Dir returns the directory holding this type's detail documents.
func (t EntityType) Dir() string {
	return typeDirs[t]
}

// Valid reports whether t is one of the known variants.
func (t EntityType) Valid() bool {
	_, ok := typePrefixes[t]
	return ok
}

// ParseEntityType parses a type name such as "incident".
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// TypeFromID resolves an entity type from its id prefix.
func TypeFromID(id string) (EntityType, bool) {
	for _, t := range EntityTypes {
		if strings.HasPrefix(id, typePrefixes[t]) {
			return t, true
		}
	}
	return "", false
}

// Entity is any node of the knowledge graph.
type Entity interface {
	EntityID() string
	EntityType() EntityType
	Label() string
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Casualties struct {
	Deaths  int `json:"deaths,omitempty"`
	Injured int `json:"injured,omitempty"`
	Missing int `json:"missing,omitempty"`
}

type TimelineEvent struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

type SourceRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Incident is a historical event: crime, disaster, accident or mystery.
type Incident struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Category         string          `json:"category,omitempty"`
	SubCategory      string          `json:"subCategory,omitempty"`
	CategoryID       string          `json:"categoryId,omitempty"`
	Era              string          `json:"era,omitempty"`
	Date             string          `json:"date,omitempty"`
	EndDate          string          `json:"endDate,omitempty"`
	Location         string          `json:"location,omitempty"`
	Country          string          `json:"country,omitempty"`
	Summary          string          `json:"summary,omitempty"`
	Description      string          `json:"description,omitempty"`
	Timeline         []TimelineEvent `json:"timeline,omitempty"`
	Theories         []string        `json:"theories,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Sources          []SourceRef     `json:"sources,omitempty"`
	Images           []string        `json:"images,omitempty"`
	Casualties       *Casualties     `json:"casualties,omitempty"`
	Coordinates      *Coordinates    `json:"coordinates,omitempty"`
	Severity         string          `json:"severity,omitempty"`
	Status           string          `json:"status,omitempty"`
	RelatedIncidents []string        `json:"relatedIncidents,omitempty"`
}

func (i *Incident) EntityID() string       { return i.ID }
func (i *Incident) EntityType() EntityType { return TypeIncident }
func (i *Incident) Label() string          { return i.Title }

// Deaths returns the recorded death toll, or zero.
func (i *Incident) Deaths() int {
	if i.Casualties == nil {
		return 0
	}
	return i.Casualties.Deaths
}

type Location struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Aliases     []string     `json:"aliases,omitempty"`
	Country     string       `json:"country,omitempty"`
	Region      string       `json:"region,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Description string       `json:"description,omitempty"`
}

func (l *Location) EntityID() string       { return l.ID }
func (l *Location) EntityType() EntityType { return TypeLocation }
func (l *Location) Label() string          { return l.Name }

type Phenomenon struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Kind        string   `json:"phenomenonType,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (p *Phenomenon) EntityID() string       { return p.ID }
func (p *Phenomenon) EntityType() EntityType { return TypePhenomenon }
func (p *Phenomenon) Label() string          { return p.Name }

type Organization struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Kind        string   `json:"orgType,omitempty"`
	Country     string   `json:"country,omitempty"`
	Founded     string   `json:"founded,omitempty"`
	Dissolved   string   `json:"dissolved,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (o *Organization) EntityID() string       { return o.ID }
func (o *Organization) EntityType() EntityType { return TypeOrganization }
func (o *Organization) Label() string          { return o.Name }

type Person struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Nationality string   `json:"nationality,omitempty"`
	Role        string   `json:"role,omitempty"`
	BirthDate   string   `json:"birthDate,omitempty"`
	DeathDate   string   `json:"deathDate,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (p *Person) EntityID() string       { return p.ID }
func (p *Person) EntityType() EntityType { return TypePerson }
func (p *Person) Label() string          { return p.Name }

type Equipment struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"`
	Kind         string   `json:"equipmentType,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Description  string   `json:"description,omitempty"`
}

func (e *Equipment) EntityID() string       { return e.ID }
func (e *Equipment) EntityType() EntityType { return TypeEquipment }
func (e *Equipment) Label() string          { return e.Name }

// CategoryEntity is the detail document of a category node.
type CategoryEntity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NameEn      string `json:"nameEn,omitempty"`
	Level       int    `json:"level"`
	ParentID    string `json:"parentId,omitempty"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c *CategoryEntity) EntityID() string       { return c.ID }
func (c *CategoryEntity) EntityType() EntityType { return TypeCategory }
func (c *CategoryEntity) Label() string          { return c.Name }

// ErrMissingID is returned when a detail document has no id.
var ErrMissingID = errors.New("entity document has no id")

// DecodeEntity decodes a detail document into the variant for t.
func DecodeEntity(t EntityType, data []byte) (Entity, error) {
	var e Entity
	switch t {
	case TypeIncident:
		e = &Incident{}
	case TypeLocation:
		e = &Location{}
	case TypePhenomenon:
		e = &Phenomenon{}
	case TypeOrganization:
		e = &Organization{}
	case TypePerson:
		e = &Person{}
	case TypeEquipment:
		e = &Equipment{}
	case TypeCategory:
		e = &CategoryEntity{}
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}
	if e.EntityID() == "" {
		return nil, ErrMissingID
	}
	return e, nil
}

// Era names.
const (
	EraAncient      = "ancient"
	EraModern       = "modern"
	EraContemporary = "contemporary"
)

// EraForDate derives an era from a YYYY-MM-DD date; negative years are BCE.
func EraForDate(date string) string {
	year, ok := ParseYear(date)
	if !ok {
		return EraContemporary
	}
	switch {
	case year < 0:
		return EraAncient
	case year < 1900:
		return EraModern
	default:
		return EraContemporary
	}
}

// ParseYear extracts the year from a date string; a leading '-' marks BCE.
func ParseYear(date string) (int, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0, false
	}
	sign := 1
	if strings.HasPrefix(date, "-") {
		sign = -1
		date = date[1:]
	}
	head, _, _ := strings.Cut(date, "-")
	year, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return sign * year, true
}
