package passgen

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAnalyze(t *testing.T) {
	sets := []FieldSet{
		{ItemID: "1", Title: "Mail", Fields: map[string]string{"password": "hunter2", "username": "me"}},
		{ItemID: "2", Title: "Forum", Fields: map[string]string{"password": "hunter2"}},
		{ItemID: "3", Title: "Bank", Fields: map[string]string{"password": "kX9#mQ2$vL7@nR4&wT8!"}},
		{ItemID: "4", Title: "Recipe", Fields: map[string]string{"notes": "salt"}},
	}

	r, err := Analyze(sets)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if r.Scanned != 4 || r.Rated != 3 {
		t.Errorf("Scanned/Rated = %d/%d, want 4/3", r.Scanned, r.Rated)
	}
	if len(r.Weak) != 2 {
		t.Fatalf("Weak = %+v, want 2 entries", r.Weak)
	}
	if r.Weak[0].Title != "Mail" || r.Weak[0].Strength != Weak {
		t.Errorf("Weak[0] = %+v", r.Weak[0])
	}
	if len(r.Duplicates) != 1 || r.Duplicates[0].Count != 2 {
		t.Errorf("Duplicates = %+v, want one group of 2", r.Duplicates)
	}
	// strength: (0+0+25)*2/3 = 16; uniqueness: (3-2)*50/3 = 16
	if r.Score != 32 {
		t.Errorf("Score = %d, want 32", r.Score)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("report leaks a value: %s", data)
	}
	if !strings.Contains(string(data), `"strength":"Weak"`) {
		t.Errorf("strength not rendered by name: %s", data)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	r, err := Analyze(nil)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if r.Score != 100 || r.Weak == nil || r.Duplicates == nil {
		t.Errorf("Analyze(nil) = %+v, want score 100 with empty slices", r)
	}
}
