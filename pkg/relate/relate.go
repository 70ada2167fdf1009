// Package relate derives RELATED_TO edges between incidents from shared
// attributes. It is the offline step that produces relations.json.
package relate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rmax-ai/mhive/pkg/graph"
)

// Options bounds the generated edge set.
type Options struct {
	// Threshold is the minimum pair score kept. Default 3.
	Threshold float64
	// MaxConnections caps the edges touching any one incident. Default 5.
	MaxConnections int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 3
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = 5
	}
	return o
}

// Pair is a scored candidate relation.
type Pair struct {
	From   string
	To     string
	Score  float64
	Reason string
}

// regions maps a region name to location keywords. A location matching none
// of them falls back to its country or last comma separated segment.
var regions = []struct {
	name     string
	keywords []string
}{
	{"korea", []string{"korea", "seoul", "busan", "daegu", "incheon", "gwangju", "daejeon", "ulsan", "jindo", "hwaseong"}},
	{"japan", []string{"japan", "tokyo", "osaka", "fukushima", "tohoku", "kobe"}},
	{"china", []string{"china", "beijing", "shanghai", "nanjing", "tangshan", "sichuan"}},
	{"united states", []string{"united states", "usa", "new york", "washington", "california", "texas", "los angeles", "new jersey", "oklahoma", "nevada", "new mexico"}},
	{"europe", []string{"united kingdom", "england", "france", "germany", "spain", "italy", "london", "paris", "madrid", "nice", "bosnia"}},
	{"southeast asia", []string{"indonesia", "thailand", "vietnam", "philippines", "malaysia", "sri lanka"}},
	{"middle east", []string{"iran", "iraq", "syria", "lebanon", "turkey", "beirut", "tehran"}},
	{"africa", []string{"rwanda", "egypt", "south africa"}},
	{"south america", []string{"brazil", "peru", "chile", "haiti"}},
	{"russia", []string{"russia", "soviet", "ukraine", "ural", "sakhalin", "chernobyl"}},
	{"south asia", []string{"india", "mumbai", "bhopal", "bangladesh"}},
	{"cambodia", []string{"cambodia"}},
	{"ocean", []string{"atlantic", "pacific", "indian ocean"}},
}

// Region returns the region used for the same-region bonus, or "" when
// nothing is known.
func Region(inc *graph.Incident) string {
	loc := strings.ToLower(inc.Location + " " + inc.Country)
	for _, r := range regions {
		for _, kw := range r.keywords {
			if strings.Contains(loc, kw) {
				return r.name
			}
		}
	}
	if inc.Country != "" {
		return strings.ToLower(strings.TrimSpace(inc.Country))
	}
	if i := strings.LastIndex(inc.Location, ","); i >= 0 {
		return strings.ToLower(strings.TrimSpace(inc.Location[i+1:]))
	}
	return ""
}

// special tag patterns; a pair where both sides match gets the bonus and
// the pattern's reason replaces any earlier one.
var specials = []struct {
	keywords []string
	bonus    float64
	reason   string
	title    bool
}{
	{[]string{"nuclear"}, 2, "nuclear accident", false},
	{[]string{"aviation", "air crash", "plane crash"}, 2, "aviation accident", false},
	{[]string{"maritime", "shipwreck", "sinking", "ship"}, 2, "maritime disaster", false},
	{[]string{"serial killer", "serial murder"}, 3, "serial murder", true},
}

// Score rates how related two incidents are and names the most specific
// reason.
func Score(a, b *graph.Incident) (float64, string) {
	var score float64
	var reasons []string

	if a.Category != "" && a.Category == b.Category {
		score += 2
		reasons = append(reasons, "same category: "+a.Category)
	}

	if ra := Region(a); ra != "" && ra == Region(b) {
		score += 3
		reasons = append(reasons, "same region: "+ra)
	}

	diff := scoringYear(a.Date) - scoringYear(b.Date)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 2:
		score += 2
		reasons = append(reasons, "same period")
	case diff <= 5:
		score += 1
		reasons = append(reasons, "similar period")
	}

	if common := sharedTags(a.Tags, b.Tags); len(common) > 0 {
		score += float64(len(common))
		shown := common
		if len(shown) > 2 {
			shown = shown[:2]
		}
		reasons = append(reasons, "shared tags: "+strings.Join(shown, ", "))
	}

	da, db := a.Deaths(), b.Deaths()
	if da > 0 && db > 0 {
		lo, hi := da, db
		if lo > hi {
			lo, hi = hi, lo
		}
		if float64(lo)/float64(hi) > 0.3 {
			score += 1
			reasons = append(reasons, "similar casualties")
		}
	}

	for _, sp := range specials {
		if matchesSpecial(a, sp.keywords, sp.title) && matchesSpecial(b, sp.keywords, sp.title) {
			score += sp.bonus
			reasons = []string{sp.reason}
		}
	}

	if len(reasons) == 0 {
		return score, "related incident"
	}
	return score, reasons[len(reasons)-1]
}

// undatedYear stands in for dates that do not parse, so undated incidents
// score as contemporaries of each other and of incidents near 2000.
const undatedYear = 2000

func scoringYear(date string) int {
	if y, ok := graph.ParseYear(date); ok {
		return y
	}
	return undatedYear
}

func matchesSpecial(inc *graph.Incident, keywords []string, title bool) bool {
	hay := strings.ToLower(strings.Join(inc.Tags, " "))
	if title {
		hay += " " + strings.ToLower(inc.Title)
	}
	for _, kw := range keywords {
		if strings.Contains(hay, kw) {
			return true
		}
	}
	return false
}

// sharedTags returns the tags of a that b also has, in a's order.
func sharedTags(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, t := range b {
		in[t] = true
	}
	var out []string
	seen := make(map[string]bool)
	for _, t := range a {
		if in[t] && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Pairs scores every unordered pair and returns those at or above the
// threshold, highest score first. Ties keep input order.
func Pairs(incidents []*graph.Incident, opts Options) []Pair {
	opts = opts.withDefaults()
	var pairs []Pair
	for i := 0; i < len(incidents); i++ {
		for j := i + 1; j < len(incidents); j++ {
			a, b := incidents[i], incidents[j]
			if a.ID == b.ID {
				continue
			}
			score, reason := Score(a, b)
			if score >= opts.Threshold {
				pairs = append(pairs, Pair{From: a.ID, To: b.ID, Score: score, Reason: reason})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })
	return pairs
}

// Generate returns the RELATED_TO edges kept after the per-incident
// connection cap. Confidence is score/10, capped at 1.
func Generate(incidents []*graph.Incident, opts Options) []graph.Edge {
	opts = opts.withDefaults()
	counts := make(map[string]int)
	var edges []graph.Edge
	for _, p := range Pairs(incidents, opts) {
		if counts[p.From] >= opts.MaxConnections || counts[p.To] >= opts.MaxConnections {
			continue
		}
		counts[p.From]++
		counts[p.To]++

		conf := p.Score / 10
		if conf > 1 {
			conf = 1
		}
		edges = append(edges, graph.Edge{
			ID:           fmt.Sprintf("rel-%05d", len(edges)+1),
			Source:       p.From,
			Target:       p.To,
			RelationType: graph.RelRelatedTo,
			Confidence:   &conf,
			Description:  p.Reason,
		})
	}
	return edges
}

// Annotate sets RelatedIncidents on every incident from edges, in edge
// order.
func Annotate(incidents []*graph.Incident, edges []graph.Edge) {
	related := make(map[string][]string)
	for _, e := range edges {
		related[e.Source] = append(related[e.Source], e.Target)
		related[e.Target] = append(related[e.Target], e.Source)
	}
	for _, inc := range incidents {
		inc.RelatedIncidents = related[inc.ID]
	}
}

// Document wraps edges as a relations.json document.
func Document(edges []graph.Edge, version string, generatedAt time.Time) graph.RelationsDocument {
	if edges == nil {
		edges = []graph.Edge{}
	}
	return graph.RelationsDocument{
		Version:     version,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Total:       len(edges),
		Edges:       edges,
	}
}
