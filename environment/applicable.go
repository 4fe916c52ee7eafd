package environment

import (
	"path/filepath"
	"strings"
)

// ReleaseRule decides whether an image root belongs to the supported
// distribution family.
type ReleaseRule struct {
	File    string // Name of the release file below /etc
	Name    string // Required distribution name substring
	Version string // Required version substring
}

// Matches reports whether release file contents satisfy the rule
func (r ReleaseRule) Matches(content string) bool {
	return strings.Contains(content, r.Name) && strings.Contains(content, r.Version)
}

// IsApplicable reads <root>/etc/<rule.File> and checks it against rule.
// A missing or unreadable file means not applicable.
func IsApplicable(host Host, root string, rule ReleaseRule) bool {
	data, err := host.ReadFile(filepath.Join(root, "etc", rule.File))
	if err != nil {
		return false
	}
	return rule.Matches(string(data))
}
