package passgen

import (
	"sort"
)

// FieldSet is the decoded field map of one item.
type FieldSet struct {
	ItemID string
	Title  string
	Fields map[string]string
}

// WeakField is a secret-looking field rated below Good.
type WeakField struct {
	ItemID   string   `json:"item_id"`
	Title    string   `json:"title"`
	Field    string   `json:"field"`
	Strength Strength `json:"strength"`
}

// HealthReport summarises password strength and reuse. It never carries
// field values.
type HealthReport struct {
	// Score is 0-100: half average strength, half uniqueness.
	Score      int              `json:"score"`
	Scanned    int              `json:"scanned"`
	Rated      int              `json:"rated"`
	Weak       []WeakField      `json:"weak"`
	Duplicates []DuplicateGroup `json:"duplicates"`
}

// Analyze rates every password or token field in sets and groups reused
// values. Fields that are neither are ignored.
func Analyze(sets []FieldSet) (*HealthReport, error) {
	r := &HealthReport{Scanned: len(sets), Weak: []WeakField{}, Duplicates: []DuplicateGroup{}}
	var (
		secrets []Secret
		points  int
	)
	for _, set := range sets {
		names := make([]string, 0, len(set.Fields))
		for name := range set.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value := set.Fields[name]
			strength, ok := RateField(name, value)
			if !ok {
				continue
			}
			r.Rated++
			points += strength.Points()
			secrets = append(secrets, Secret{ItemID: set.ItemID, Title: set.Title, Field: name, Value: value})
			if strength < Good {
				r.Weak = append(r.Weak, WeakField{ItemID: set.ItemID, Title: set.Title, Field: name, Strength: strength})
			}
		}
	}

	dups, err := FindDuplicates(secrets)
	if err != nil {
		return nil, err
	}
	if dups != nil {
		r.Duplicates = dups
	}

	if r.Rated == 0 {
		r.Score = 100
		return r, nil
	}
	reused := 0
	for _, g := range r.Duplicates {
		reused += g.Count
	}
	strength := points * 2 / r.Rated
	uniqueness := (r.Rated - reused) * 50 / r.Rated
	r.Score = strength + uniqueness
	return r, nil
}
