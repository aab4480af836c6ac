// Package mention extracts @name agent references from comment text.
package mention

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentdesk/agentdesk/internal/agent/models"
)

// mentionPattern matches an @ at the start of the text or after a non-word
// character, followed by an agent name. Names may contain letters, digits,
// underscores, and interior hyphens. The local part of an email address does
// not start a mention because it is preceded by a word character.
var mentionPattern = regexp.MustCompile(`(^|[^\w@])@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// Parse returns the mentioned names in order of first appearance, lowercased
// and deduplicated. It returns nil when the text holds no mentions.
func Parse(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.ToLower(m[2])
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Resolver resolves parsed names against registered agents.
type Resolver interface {
	ResolveByName(ctx context.Context, name string) (*models.Agent, error)
}

// Resolve maps parsed names to enabled agents. Unknown names and disabled
// agents are skipped; the returned slice preserves mention order.
func Resolve(ctx context.Context, resolver Resolver, names []string) []*models.Agent {
	var agents []*models.Agent
	for _, name := range names {
		agent, err := resolver.ResolveByName(ctx, name)
		if err != nil || agent == nil {
			continue
		}
		if !agent.Enabled {
			continue
		}
		agents = append(agents, agent)
	}
	return agents
}
