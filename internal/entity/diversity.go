package entity

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// nameKeys and orgKeys group tags for the report's summary rows.
var (
	nameKeys = []string{"name", "caller", "callee", "officer", "agent", "victim", "person"}
	orgKeys  = []string{"bank", "company", "org", "agency", "police", "court", "courier", "platform", "department", "ministry"}
)

// Group classifies a tag as "organization", "name" or "other". Organization
// keys win since names like bank_name_local also contain "name".
func Group(tag string) string {
	t := strings.ToLower(tag)
	for _, k := range orgKeys {
		if strings.Contains(t, k) {
			return "organization"
		}
	}
	for _, k := range nameKeys {
		if strings.Contains(t, k) {
			return "name"
		}
	}
	return "other"
}

// Aggregator collects placeholder values and profile ids across a batch.
// It is safe for concurrent use by pipeline workers.
type Aggregator struct {
	mu       sync.Mutex
	values   map[string]map[string]int
	profiles map[string]map[string]int
	convs    int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		values:   map[string]map[string]int{},
		profiles: map[string]map[string]int{},
	}
}

// Record adds one accepted conversation's bindings and profile ids keyed by
// role.
func (a *Aggregator) Record(placeholders map[string]string, profiles map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.convs++
	for tag, v := range placeholders {
		if a.values[tag] == nil {
			a.values[tag] = map[string]int{}
		}
		a.values[tag][v]++
	}
	for role, id := range profiles {
		if a.profiles[role] == nil {
			a.profiles[role] = map[string]int{}
		}
		a.profiles[role][id]++
	}
}

// ValueCount is one value and how often it was used.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Diversity describes the spread of values for one tag or role.
type Diversity struct {
	Key        string       `json:"key"`
	Group      string       `json:"group,omitempty"`
	Total      int          `json:"total"`
	Unique     int          `json:"unique"`
	UniquePct  float64      `json:"unique_pct"`
	Entropy    float64      `json:"entropy"`
	Score      float64      `json:"score"`
	MostCommon []ValueCount `json:"most_common"`
}

// Report is the batch-level diversity summary.
type Report struct {
	Conversations int         `json:"conversations"`
	Placeholders  []Diversity `json:"placeholders"`
	Profiles      []Diversity `json:"profiles"`
}

// Report computes Shannon entropy per tag and per role. Score is entropy
// normalized by its maximum for the observed unique count.
func (a *Aggregator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Report{Conversations: a.convs}
	for tag, counts := range a.values {
		d := measure(tag, counts)
		d.Group = Group(tag)
		r.Placeholders = append(r.Placeholders, d)
	}
	for role, counts := range a.profiles {
		r.Profiles = append(r.Profiles, measure(role, counts))
	}
	sort.Slice(r.Placeholders, func(i, j int) bool { return r.Placeholders[i].Key < r.Placeholders[j].Key })
	sort.Slice(r.Profiles, func(i, j int) bool { return r.Profiles[i].Key < r.Profiles[j].Key })
	return r
}

const mostCommonLimit = 5

func measure(key string, counts map[string]int) Diversity {
	d := Diversity{Key: key, Unique: len(counts)}
	for _, c := range counts {
		d.Total += c
	}
	if d.Total == 0 {
		return d
	}
	d.UniquePct = 100 * float64(d.Unique) / float64(d.Total)
	d.Entropy = Entropy(counts)
	if d.Unique > 1 {
		d.Score = d.Entropy / math.Log2(float64(d.Unique))
	}

	for v, c := range counts {
		d.MostCommon = append(d.MostCommon, ValueCount{Value: v, Count: c})
	}
	sort.Slice(d.MostCommon, func(i, j int) bool {
		if d.MostCommon[i].Count != d.MostCommon[j].Count {
			return d.MostCommon[i].Count > d.MostCommon[j].Count
		}
		return d.MostCommon[i].Value < d.MostCommon[j].Value
	})
	if len(d.MostCommon) > mostCommonLimit {
		d.MostCommon = d.MostCommon[:mostCommonLimit]
	}
	return d
}

// Entropy is the base-2 Shannon entropy of a frequency table.
func Entropy(counts map[string]int) float64 {
	var total int
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
