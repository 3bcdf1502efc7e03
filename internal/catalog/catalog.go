// Package catalog holds the externally-owned reference data the workflow
// engine reads but never mutates: artifact requirements and quorum policies
// per gate, and the IC member roster.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// Catalog is one immutable version of the reference configuration.
type Catalog struct {
	Requirements []model.ArtifactRequirement `json:"requirements" toml:"requirements" yaml:"requirements"`
	Policies     []model.QuorumPolicy        `json:"policies" toml:"policies" yaml:"policies"`
	Members      []model.ICMember            `json:"members" toml:"members" yaml:"members"`
}

// RequiredTypes returns the required artifact types for gate, sorted.
func (c *Catalog) RequiredTypes(gate model.Gate) []string {
	var out []string
	for _, r := range c.Requirements {
		if r.Gate == gate {
			out = append(out, r.Types...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Requires reports whether artifactType is in gate's requirement set.
func (c *Catalog) Requires(gate model.Gate, artifactType string) bool {
	return slices.Contains(c.RequiredTypes(gate), artifactType)
}

// Policy returns the quorum policy for gate. Gates without a configured
// policy (Close) get the zero policy.
func (c *Catalog) Policy(gate model.Gate) model.QuorumPolicy {
	for _, p := range c.Policies {
		if p.Gate == gate {
			return p
		}
	}
	return model.QuorumPolicy{Gate: gate}
}

// Roster returns a copy of every configured member.
func (c *Catalog) Roster() []model.ICMember {
	return slices.Clone(c.Members)
}

// ActiveMembers returns the members currently eligible to vote.
func (c *Catalog) ActiveMembers() []model.ICMember {
	var out []model.ICMember
	for _, m := range c.Members {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// ActiveMember looks up id on the active roster.
func (c *Catalog) ActiveMember(id string) (model.ICMember, bool) {
	for _, m := range c.Members {
		if m.ID == id && m.Active {
			return m, true
		}
	}
	return model.ICMember{}, false
}

// Validate checks the catalog for configuration mistakes.
func (c *Catalog) Validate() error {
	var problems []string
	for _, r := range c.Requirements {
		if !r.Gate.IsValid() {
			problems = append(problems, fmt.Sprintf("requirement: unknown gate %q", r.Gate))
			continue
		}
		if r.Gate.IsTerminal() && len(r.Types) > 0 {
			problems = append(problems, "requirement: close is terminal and cannot require artifacts")
		}
		for _, t := range r.Types {
			if strings.TrimSpace(t) == "" {
				problems = append(problems, fmt.Sprintf("requirement %s: empty artifact type", r.Gate))
			}
		}
	}

	seen := map[model.Gate]bool{}
	for _, p := range c.Policies {
		if !p.Gate.IsValid() {
			problems = append(problems, fmt.Sprintf("policy: unknown gate %q", p.Gate))
			continue
		}
		if seen[p.Gate] {
			problems = append(problems, fmt.Sprintf("policy %s: defined more than once", p.Gate))
		}
		seen[p.Gate] = true
		if p.MinParticipants < 1 {
			problems = append(problems, fmt.Sprintf("policy %s: min_participants must be at least 1", p.Gate))
		}
		if p.MinApprovalFraction <= 0 || p.MinApprovalFraction > 1 {
			problems = append(problems, fmt.Sprintf("policy %s: min_approval_fraction must be in (0, 1]", p.Gate))
		}
	}
	for _, g := range model.AllGates {
		if !g.IsTerminal() && !seen[g] {
			problems = append(problems, fmt.Sprintf("policy %s: missing", g))
		}
	}

	ids := map[string]bool{}
	for _, m := range c.Members {
		if m.ID == "" {
			problems = append(problems, "member: empty id")
			continue
		}
		if ids[m.ID] {
			problems = append(problems, fmt.Sprintf("member %s: duplicate id", m.ID))
		}
		ids[m.ID] = true
	}
	if len(c.ActiveMembers()) == 0 {
		problems = append(problems, "roster: no active members")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid catalog: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LoadFile reads a catalog from a TOML (.toml) or YAML (.yaml, .yml) file
// and validates it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &c); err != nil {
			return nil, fmt.Errorf("decode catalog %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("catalog %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Provider hands out the catalog version to use for one call.
type Provider interface {
	Current() *Catalog
}

// Static always returns the same catalog.
type Static struct {
	Catalog *Catalog
}

// Current returns the wrapped catalog.
func (s Static) Current() *Catalog { return s.Catalog }

// FileProvider serves a catalog loaded from disk and can be reloaded.
type FileProvider struct {
	path string

	mu  sync.RWMutex
	cur *Catalog
}

// NewFileProvider loads path once and returns a provider for it.
func NewFileProvider(path string) (*FileProvider, error) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileProvider{path: path, cur: c}, nil
}

// Current returns the most recently loaded catalog.
func (p *FileProvider) Current() *Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

// Reload re-reads the file. On failure the previous catalog stays active.
func (p *FileProvider) Reload() error {
	c, err := LoadFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cur = c
	p.mu.Unlock()
	return nil
}
