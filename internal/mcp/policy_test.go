package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
		check   func(t *testing.T, p *Policy)
	}{
		{
			name:    "defaults",
			content: "version: 1\n",
			check: func(t *testing.T, p *Policy) {
				if p.DefaultAction != ActionDeny {
					t.Errorf("DefaultAction = %q, want deny", p.DefaultAction)
				}
				if p.MaxResults != DefaultMaxResults {
					t.Errorf("MaxResults = %d, want %d", p.MaxResults, DefaultMaxResults)
				}
			},
		},
		{
			name:    "full",
			content: "version: 1\ndefault_action: allow\ndenied_tools: [vault_list_trash]\nmax_results: 10\n",
			check: func(t *testing.T, p *Policy) {
				if p.MaxResults != 10 || len(p.DeniedTools) != 1 {
					t.Errorf("policy = %+v", p)
				}
			},
		},
		{name: "bad version", content: "version: 2\n", wantErr: "unsupported policy version"},
		{name: "bad action", content: "version: 1\ndefault_action: maybe\n", wantErr: "invalid default_action"},
		{name: "unknown tool", content: "version: 1\nallowed_tools: [secret_run]\n", wantErr: "unknown tool"},
		{name: "negative limit", content: "version: 1\nmax_results: -1\n", wantErr: "invalid max_results"},
		{name: "bad yaml", content: "version: [\n", wantErr: "parse policy file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParsePolicy() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePolicy() error = %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestIsToolAllowed(t *testing.T) {
	allow := &Policy{Version: 1, DefaultAction: ActionAllow, DeniedTools: []string{ToolListTrash}}
	deny := &Policy{Version: 1, DefaultAction: ActionDeny, AllowedTools: []string{ToolSearch, ToolPasswordHealth}}

	tests := []struct {
		name   string
		policy *Policy
		tool   string
		want   bool
	}{
		{"allow default", allow, ToolCounts, true},
		{"allow denied", allow, ToolListTrash, false},
		{"allow sensitive needs listing", allow, ToolPasswordHealth, false},
		{"deny default", deny, ToolCounts, false},
		{"deny listed", deny, ToolSearch, true},
		{"deny sensitive listed", deny, ToolPasswordHealth, true},
		{"default policy sensitive", DefaultPolicy(), ToolPasswordHealth, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.policy.IsToolAllowed(tt.tool)
			if got != tt.want {
				t.Errorf("IsToolAllowed(%s) = %v (%s), want %v", tt.tool, got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Error("denied without a reason")
			}
		})
	}
}

func TestPolicyLimit(t *testing.T) {
	p := &Policy{MaxResults: 50}
	for _, tt := range []struct{ in, want int }{{0, 50}, {-3, 50}, {10, 10}, {50, 50}, {51, 50}} {
		if got := p.limit(tt.in); got != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	_, err := LoadPolicy(t.TempDir())
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("LoadPolicy() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestLoadPolicy_Valid(t *testing.T) {
	dir := t.TempDir()
	createTestPolicy(t, dir, "version: 1\ndefault_action: allow\n", 0o600)

	p, err := LoadPolicy(dir)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if p.DefaultAction != ActionAllow {
		t.Errorf("DefaultAction = %q, want allow", p.DefaultAction)
	}
}

func TestLoadPolicy_Insecure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}
	dir := t.TempDir()
	createTestPolicy(t, dir, "version: 1\n", 0o640)

	_, err := LoadPolicy(dir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("LoadPolicy() error = %v, want ErrPolicyInsecure", err)
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on Windows")
	}
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "real.yaml")
	if err := os.WriteFile(target, []byte("version: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, PolicyFileName)); err != nil {
		t.Fatal(err)
	}

	_, err := LoadPolicy(dir)
	if !errors.Is(err, ErrPolicySymlink) {
		t.Errorf("LoadPolicy() error = %v, want ErrPolicySymlink", err)
	}
}
