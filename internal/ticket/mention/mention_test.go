package mention

import (
	"context"
	"reflect"
	"testing"

	"github.com/agentdesk/agentdesk/internal/agent/models"
	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single mention",
			text: "@planner please refine this",
			want: []string{"planner"},
		},
		{
			name: "mention mid-sentence",
			text: "can @developer take a look?",
			want: []string{"developer"},
		},
		{
			name: "multiple mentions",
			text: "@planner and @reviewer should coordinate",
			want: []string{"planner", "reviewer"},
		},
		{
			name: "duplicate mentions collapse",
			text: "@dev @dev @DEV",
			want: []string{"dev"},
		},
		{
			name: "case normalized",
			text: "@Planner",
			want: []string{"planner"},
		},
		{
			name: "hyphenated and underscored names",
			text: "ping @code-reviewer and @qa_bot",
			want: []string{"code-reviewer", "qa_bot"},
		},
		{
			name: "email address is not a mention",
			text: "reach me at someone@example.com",
			want: nil,
		},
		{
			name: "double at is not a mention",
			text: "weird @@name token",
			want: nil,
		},
		{
			name: "mention after punctuation",
			text: "done. @reviewer: your turn (cc @planner)",
			want: []string{"reviewer", "planner"},
		},
		{
			name: "bare at sign",
			text: "meet @ noon",
			want: nil,
		},
		{
			name: "no mentions",
			text: "nothing to see here",
			want: nil,
		},
		{
			name: "mention at end",
			text: "assigned to @developer",
			want: []string{"developer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

type fakeResolver struct {
	agents map[string]*models.Agent
}

func (f *fakeResolver) ResolveByName(ctx context.Context, name string) (*models.Agent, error) {
	if agent, ok := f.agents[name]; ok {
		return agent, nil
	}
	return nil, apperrors.NotFound("agent", name)
}

func TestResolve(t *testing.T) {
	resolver := &fakeResolver{agents: map[string]*models.Agent{
		"planner":  {ID: "a1", Name: "planner", Type: models.TypePlanner, Enabled: true},
		"reviewer": {ID: "a2", Name: "reviewer", Type: models.TypeReviewer, Enabled: false},
	}}

	agents := Resolve(context.Background(), resolver, []string{"planner", "reviewer", "ghost"})
	if len(agents) != 1 {
		t.Fatalf("expected 1 resolved agent, got %d", len(agents))
	}
	if agents[0].ID != "a1" {
		t.Errorf("expected planner resolved, got %s", agents[0].Name)
	}
}
