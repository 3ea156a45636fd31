package importer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

const lpHeader = "url,username,password,totp,extra,name,grouping,fav\n"

func TestLastPassParser_Source(t *testing.T) {
	p := &LastPassParser{}
	if p.Source() != SourceLastPass {
		t.Errorf("Source() = %q, want %q", p.Source(), SourceLastPass)
	}
}

func TestLastPassParser_Parse(t *testing.T) {
	tests := []struct {
		name       string
		csv        string
		wantItems  int
		wantSkip   int
		wantWarn   int
		wantErr    bool
		checkFirst func(t *testing.T, it *ImportedItem)
	}{
		{
			name:      "basic login",
			csv:       lpHeader + "https://github.com,john,secret,,,GitHub,Work,1\n",
			wantItems: 1,
			checkFirst: func(t *testing.T, it *ImportedItem) {
				if it.Title != "GitHub" || it.Type != vault.TypeCredential {
					t.Errorf("got %q (%s)", it.Title, it.Type)
				}
				if it.Fields["username"] != "john" || it.Fields["password"] != "secret" || it.Fields["url"] != "https://github.com" {
					t.Errorf("fields = %v", it.Fields)
				}
				if it.FolderPath != "Work" || !it.Starred {
					t.Errorf("folder = %q starred = %v", it.FolderPath, it.Starred)
				}
			},
		},
		{
			name:      "secure note",
			csv:       lpHeader + "http://sn,,,,\"line1\nline2\",Recipe,,0\n",
			wantItems: 1,
			checkFirst: func(t *testing.T, it *ImportedItem) {
				if it.Type != vault.TypeNote {
					t.Errorf("Type = %q, want note", it.Type)
				}
				if _, ok := it.Fields["url"]; ok {
					t.Error("secure note marker should not become a url field")
				}
				if it.Fields["notes"] != "line1\nline2" {
					t.Errorf("notes = %q", it.Fields["notes"])
				}
			},
		},
		{
			name:      "nested grouping",
			csv:       lpHeader + "https://x.io,u,p,,,X,Finance\\Banks,0\n",
			wantItems: 1,
			checkFirst: func(t *testing.T, it *ImportedItem) {
				if it.FolderPath != "Finance/Banks" {
					t.Errorf("FolderPath = %q", it.FolderPath)
				}
			},
		},
		{
			name:      "html entities",
			csv:       lpHeader + "https://x.io,u,a&amp;b,,,Tom &amp; Jerry,,0\n",
			wantItems: 1,
			checkFirst: func(t *testing.T, it *ImportedItem) {
				if it.Title != "Tom & Jerry" || it.Fields["password"] != "a&b" {
					t.Errorf("got %q / %q", it.Title, it.Fields["password"])
				}
			},
		},
		{
			name:      "empty name falls back to host",
			csv:       lpHeader + "https://www.example.com/x,u,p,,,,,0\n",
			wantItems: 1,
			checkFirst: func(t *testing.T, it *ImportedItem) {
				if it.Title != "example.com" {
					t.Errorf("Title = %q", it.Title)
				}
			},
		},
		{
			name:     "no useful data",
			csv:      lpHeader + "https://x.io,,,,,Empty,,0\n",
			wantSkip: 1,
		},
		{
			name:     "column count mismatch",
			csv:      lpHeader + "https://x.io,u,p\n",
			wantWarn: 1,
		},
		{
			name:      "bom and uppercase header",
			csv:       "\xEF\xBB\xBFURL,USERNAME,PASSWORD,TOTP,EXTRA,NAME,GROUPING,FAV\nhttps://a.io,u,p,,,A,,0\n",
			wantItems: 1,
		},
		{
			name:    "missing name column",
			csv:     "url,username,password\nhttps://a.io,u,p\n",
			wantErr: true,
		},
		{
			name:    "empty input",
			csv:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := (&LastPassParser{}).Parse([]byte(tt.csv))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Items) != tt.wantItems {
				t.Errorf("Items = %d, want %d", len(result.Items), tt.wantItems)
			}
			if len(result.Skipped) != tt.wantSkip {
				t.Errorf("Skipped = %d, want %d", len(result.Skipped), tt.wantSkip)
			}
			if len(result.Warnings) != tt.wantWarn {
				t.Errorf("Warnings = %v, want %d", result.Warnings, tt.wantWarn)
			}
			if tt.checkFirst != nil && len(result.Items) > 0 {
				tt.checkFirst(t, result.Items[0])
			}
		})
	}
}

func TestLastPassParser_Deduplication(t *testing.T) {
	csv := lpHeader +
		"https://a.io,u1,p1,,,Mail,,0\n" +
		"https://b.io,u2,p2,,,Mail,,0\n" +
		"https://c.io,u3,p3,,,Mail,,0\n"

	result, err := (&LastPassParser{}).Parse([]byte(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Mail", "Mail (2)", "Mail (3)"}
	for i, w := range want {
		if result.Items[i].Title != w {
			t.Errorf("title[%d] = %q, want %q", i, result.Items[i].Title, w)
		}
	}
}

func TestLastPassParser_LazyQuotes(t *testing.T) {
	csv := lpHeader + `https://a.io,u,pa"ss,,,Quote,,0` + "\n"
	result, err := (&LastPassParser{}).Parse([]byte(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Fields["password"] != `pa"ss` {
		t.Errorf("items = %+v", result.Items)
	}
}

func TestLastPassParser_LargeFile(t *testing.T) {
	var b strings.Builder
	b.WriteString(lpHeader)
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "https://s%d.io,user%d,pass%d,,,Site %d,Group %d,0\n", i, i, i, i, i%10)
	}
	result, err := (&LastPassParser{}).Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Items) != 1000 {
		t.Errorf("Items = %d, want 1000", len(result.Items))
	}
	if got := len(result.Folders()); got != 10 {
		t.Errorf("Folders() = %d, want 10", got)
	}
}
