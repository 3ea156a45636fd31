package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Policy controls which tools an MCP client may call. It lives next to the
// vault database as mcp-policy.yaml.
type Policy struct {
	Version       int      `yaml:"version"`
	DefaultAction string   `yaml:"default_action"`
	AllowedTools  []string `yaml:"allowed_tools"`
	DeniedTools   []string `yaml:"denied_tools"`
	// MaxResults caps list-shaped tool output. Zero means DefaultMaxResults.
	MaxResults int `yaml:"max_results"`
}

// PolicyFileName is the name of the policy file inside the data directory.
const PolicyFileName = "mcp-policy.yaml"

// DefaultMaxResults caps list output when the policy does not.
const DefaultMaxResults = 200

// Policy actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

var (
	// ErrPolicyNotFound is returned when no policy file exists.
	ErrPolicyNotFound = errors.New("MCP policy file not found")
	// ErrPolicyInsecure is returned when the policy file is readable by others.
	ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")
	// ErrPolicySymlink is returned when the policy file is a symlink.
	ErrPolicySymlink = errors.New("MCP policy file is a symlink")
	// ErrPolicyNotOwnedByUser is returned when the policy file belongs to someone else.
	ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")
)

// sensitiveTools inspect decrypted payloads. They run only when a policy
// names them in allowed_tools, regardless of default_action.
var sensitiveTools = []string{ToolPasswordHealth}

// DefaultPolicy is used when no policy file exists: every metadata tool is
// allowed and payload-inspecting tools stay off.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1, DefaultAction: ActionAllow, MaxResults: DefaultMaxResults}
}

// LoadPolicy reads the policy from dir. The file is opened without following
// symlinks and checked through the open descriptor so it cannot be swapped
// between the checks and the read.
func LoadPolicy(dir string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(dir, PolicyFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkOwner(f); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(content)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(content []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if p.DefaultAction == "" {
		p.DefaultAction = ActionDeny
	}
	if p.MaxResults == 0 {
		p.MaxResults = DefaultMaxResults
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the policy version, action and tool names.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}
	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("invalid default_action: %s (must be '%s' or '%s')", p.DefaultAction, ActionDeny, ActionAllow)
	}
	if p.MaxResults < 0 {
		return fmt.Errorf("invalid max_results: %d", p.MaxResults)
	}
	for _, name := range slices.Concat(p.AllowedTools, p.DeniedTools) {
		if !slices.Contains(ToolNames, name) {
			return fmt.Errorf("unknown tool in policy: %q", name)
		}
	}
	return nil
}

// IsToolAllowed evaluates denied_tools, then allowed_tools, then the
// default action. Sensitive tools never fall through to the default.
func (p *Policy) IsToolAllowed(name string) (allowed bool, reason string) {
	if slices.Contains(p.DeniedTools, name) {
		return false, fmt.Sprintf("tool '%s' is in denied_tools", name)
	}
	if slices.Contains(p.AllowedTools, name) {
		return true, ""
	}
	if slices.Contains(sensitiveTools, name) {
		return false, fmt.Sprintf("tool '%s' must be listed in allowed_tools", name)
	}
	if p.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("tool '%s' not in allowed_tools", name)
}

func (p *Policy) limit(requested int) int {
	if requested <= 0 || requested > p.MaxResults {
		return p.MaxResults
	}
	return requested
}
