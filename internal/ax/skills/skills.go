// Package skills implements the skills.read/list/propose handler group:
// named, file-backed prompt fragments the agent can draw on, plus
// a propose path that writes new skill content either straight into the
// approved set or into a pending-review queue, depending on whether the
// proposed content claims any new capability. All filesystem access goes
// through pathkernel.Constrain, the same discipline the IPC handlers apply
// to identity file paths derived from model- or channel-supplied input.
package skills

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/axrun/ax/internal/ax/pathkernel"
)

const (
	approvedDir = "approved"
	pendingDir  = "pending"
	fileExt     = ".md"
)

// capabilityPhrase matches skill content that claims a new capability
// (tool access, network, credential use) rather than plain instructional
// text, triggering human review instead of auto-approval.
var capabilityPhrase = regexp.MustCompile(`(?i)\bcapabilit(y|ies)\b`)

// Store is a skills library rooted at a single directory, split into an
// approved/ subtree (readable, listable, used in prompts) and a pending/
// subtree (awaiting human review).
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the approved/ and
// pending/ subdirectories if absent.
func Open(root string) (*Store, error) {
	for _, sub := range []string{approvedDir, pendingDir} {
		dir, err := pathkernel.Constrain(root, sub)
		if err != nil {
			return nil, fmt.Errorf("skills: constrain %s: %w", sub, err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("skills: create %s: %w", sub, err)
		}
	}
	return &Store{root: root}, nil
}

// Read returns the approved skill content for name.
func (s *Store) Read(ctx context.Context, name string) (string, error) {
	path, err := pathkernel.Constrain(s.root, approvedDir, name+fileExt)
	if err != nil {
		return "", fmt.Errorf("skills: read %q: %w", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("skills: read %q: %w", name, err)
	}
	return string(data), nil
}

// List returns the names of every approved skill, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	dir, err := pathkernel.Constrain(s.root, approvedDir)
	if err != nil {
		return nil, fmt.Errorf("skills: list: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("skills: list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// ProposeResult reports where a proposed skill landed.
type ProposeResult struct {
	Name          string
	AutoApproved  bool
	PendingReview bool
}

// Propose writes a candidate skill. Content that claims a new capability
// is written to the pending-review queue instead of the approved set;
// everything else is approved immediately. The caller (the IPC handler)
// is responsible for having already run the content through the outbound
// content scanner and rejecting anything it blocks — Propose only
// arbitrates approved-vs-pending, not safety.
func (s *Store) Propose(ctx context.Context, name, content, description string) (ProposeResult, error) {
	if capabilityPhrase.MatchString(content) {
		path, err := pathkernel.Constrain(s.root, pendingDir, name+fileExt)
		if err != nil {
			return ProposeResult{}, fmt.Errorf("skills: propose %q: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(render(name, description, content)), 0o600); err != nil {
			return ProposeResult{}, fmt.Errorf("skills: propose %q: %w", name, err)
		}
		return ProposeResult{Name: name, PendingReview: true}, nil
	}

	path, err := pathkernel.Constrain(s.root, approvedDir, name+fileExt)
	if err != nil {
		return ProposeResult{}, fmt.Errorf("skills: propose %q: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(render(name, description, content)), 0o600); err != nil {
		return ProposeResult{}, fmt.Errorf("skills: propose %q: %w", name, err)
	}
	return ProposeResult{Name: name, AutoApproved: true}, nil
}

func render(name, description, content string) string {
	if description == "" {
		return content
	}
	return fmt.Sprintf("<!-- %s: %s -->\n%s", name, description, content)
}
