package persona_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/llm"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/persona"
)

func TestNew(t *testing.T) {
	p := persona.New()

	if p.Identity.Name != "Concierge" {
		t.Errorf("expected name 'Concierge', got %q", p.Identity.Name)
	}
	if p.Communication.Tone != persona.ToneFriendly {
		t.Errorf("expected tone 'friendly', got %q", p.Communication.Tone)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default persona should be valid: %v", err)
	}
}

func TestVoicePrompt(t *testing.T) {
	p := persona.New()
	prompt := p.VoicePrompt()

	if !strings.Contains(prompt, "Concierge") {
		t.Error("prompt should contain persona name")
	}
	if !strings.Contains(prompt, "friendly") {
		t.Error("prompt should contain tone instructions")
	}
	if !strings.Contains(prompt, "Do not use emoji") {
		t.Error("prompt should forbid emoji by default")
	}
	for _, rule := range p.Style {
		if !strings.Contains(prompt, rule) {
			t.Errorf("prompt missing style rule %q", rule)
		}
	}
}

func TestClone(t *testing.T) {
	p := persona.New()
	clone := p.Clone()

	clone.Identity.Name = "Modified"
	clone.Style[0] = "changed"
	clone.Identity.Personality = append(clone.Identity.Personality, "loud")

	if p.Identity.Name == "Modified" {
		t.Error("modifying clone should not affect original")
	}
	if p.Style[0] == "changed" {
		t.Error("clone should not share style slice")
	}
	if len(p.Identity.Personality) != 3 {
		t.Errorf("original personality changed: %v", p.Identity.Personality)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*persona.Persona)
		wantErr bool
	}{
		{
			name:    "valid default",
			modify:  func(p *persona.Persona) {},
			wantErr: false,
		},
		{
			name: "empty name",
			modify: func(p *persona.Persona) {
				p.Identity.Name = ""
			},
			wantErr: true,
		},
		{
			name: "empty role",
			modify: func(p *persona.Persona) {
				p.Identity.Role = ""
			},
			wantErr: true,
		},
		{
			name: "invalid tone",
			modify: func(p *persona.Persona) {
				p.Communication.Tone = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid detail level",
			modify: func(p *persona.Persona) {
				p.Communication.DetailLevel = "exhaustive"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := persona.New()
			tt.modify(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	yaml := `
identity:
  name: Jeeves
  role: butler
communication:
  tone: professional
  use_emoji: true
style:
  - Address the user as sir.
`

	p, err := persona.LoadFromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	if p.Identity.Name != "Jeeves" {
		t.Errorf("expected name 'Jeeves', got %q", p.Identity.Name)
	}
	if p.Communication.Tone != persona.ToneProfessional {
		t.Errorf("expected tone 'professional', got %q", p.Communication.Tone)
	}
	if p.Communication.DetailLevel != persona.DetailBalanced {
		t.Errorf("missing detail_level should keep default, got %q", p.Communication.DetailLevel)
	}
	if !p.Communication.UseEmoji {
		t.Error("expected use_emoji to be true")
	}
	if len(p.Style) != 1 || p.Style[0] != "Address the user as sir." {
		t.Errorf("unexpected style rules: %v", p.Style)
	}
}

func TestLoadFromYAMLInvalid(t *testing.T) {
	if _, err := persona.LoadFromYAML([]byte("communication:\n  tone: shouty\n")); err == nil {
		t.Error("expected validation error for unknown tone")
	}
	if _, err := persona.LoadFromYAML([]byte("identity: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	p, err := persona.LoadFromFile(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to default: %v", err)
	}
	if p.Identity.Name != "Concierge" {
		t.Errorf("expected default persona, got %q", p.Identity.Name)
	}

	path := filepath.Join(dir, "nested", "persona.yaml")
	custom := persona.New()
	custom.Identity.Name = "Ada"
	if err := custom.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	loaded, err := persona.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Identity.Name != "Ada" {
		t.Errorf("expected name 'Ada', got %q", loaded.Identity.Name)
	}
}

// ============================================================================
// Voice wrapping
// ============================================================================

const longAnswer = "The living room light is now on at 80% brightness, as requested a moment ago."

type fakeModels struct {
	mc models.ModelConfig
}

func (f fakeModels) Resolve(agents.Agent) models.ModelConfig { return f.mc }

type fakeLLM struct {
	content string
	err     error
	calls   int
	last    *llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req *llm.Request, onDelta func(string)) (*llm.Response, error) {
	resp, err := f.Complete(ctx, req)
	if err == nil {
		onDelta(resp.Content)
	}
	return resp, err
}

func newWrapper(client *fakeLLM, key string) *persona.Wrapper {
	src := fakeModels{mc: models.ModelConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: key}}
	return persona.NewWrapper(nil, src, func(models.ModelConfig) llm.Client { return client })
}

func TestShouldWrap(t *testing.T) {
	tests := []struct {
		name    string
		agent   agents.Agent
		content string
		want    bool
	}{
		{"specialist long answer", agents.Home, longAnswer, true},
		{"personality never wrapped", agents.Personality, longAnswer, false},
		{"short answer", agents.Home, "Done.", false},
		{"49 characters", agents.Coding, strings.Repeat("a", 49), false},
		{"50 characters", agents.Coding, strings.Repeat("a", 50), true},
		{"whitespace does not count", agents.Coding, "   " + strings.Repeat("a", 49) + "   ", false},
		{"unknown agent", agents.Agent("plumber"), longAnswer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := persona.ShouldWrap(tt.agent, tt.content, 50); got != tt.want {
				t.Errorf("ShouldWrap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	ctx := context.Background()

	t.Run("rewrites specialist answer", func(t *testing.T) {
		client := &fakeLLM{content: "  All set, the living room light is on at 80%.  "}
		w := newWrapper(client, "sk-test")

		got := w.Wrap(ctx, agents.Home, longAnswer)
		if got != "All set, the living room light is on at 80%." {
			t.Errorf("unexpected wrapped content: %q", got)
		}
		if client.last.Messages[1].Content != longAnswer {
			t.Error("draft answer should be sent as the user message")
		}
		if client.last.Model != "gpt-4o-mini" {
			t.Errorf("expected default agent's model, got %q", client.last.Model)
		}
	})

	t.Run("personality passes through untouched", func(t *testing.T) {
		client := &fakeLLM{content: "rewritten"}
		w := newWrapper(client, "sk-test")

		if got := w.Wrap(ctx, agents.Personality, longAnswer); got != longAnswer {
			t.Errorf("expected passthrough, got %q", got)
		}
		if client.calls != 0 {
			t.Error("no model call expected for personality")
		}
	})

	t.Run("short answer passes through untouched", func(t *testing.T) {
		client := &fakeLLM{content: "rewritten"}
		w := newWrapper(client, "sk-test")

		if got := w.Wrap(ctx, agents.Home, "Light on."); got != "Light on." {
			t.Errorf("expected passthrough, got %q", got)
		}
		if client.calls != 0 {
			t.Error("no model call expected for short answers")
		}
	})

	t.Run("provider failure keeps original", func(t *testing.T) {
		w := newWrapper(&fakeLLM{err: errors.New("503 service unavailable")}, "sk-test")
		if got := w.Wrap(ctx, agents.Finance, longAnswer); got != longAnswer {
			t.Errorf("expected original content, got %q", got)
		}
	})

	t.Run("empty rewrite keeps original", func(t *testing.T) {
		w := newWrapper(&fakeLLM{content: "   "}, "sk-test")
		if got := w.Wrap(ctx, agents.Finance, longAnswer); got != longAnswer {
			t.Errorf("expected original content, got %q", got)
		}
	})

	t.Run("missing credential keeps original", func(t *testing.T) {
		client := &fakeLLM{content: "rewritten"}
		w := newWrapper(client, "")
		if got := w.Wrap(ctx, agents.Finance, longAnswer); got != longAnswer {
			t.Errorf("expected original content, got %q", got)
		}
		if client.calls != 0 {
			t.Error("no model call expected without a credential")
		}
	})

	t.Run("custom minimum length", func(t *testing.T) {
		client := &fakeLLM{content: "Sure thing."}
		src := fakeModels{mc: models.ModelConfig{Model: "m", APIKey: "k"}}
		w := persona.NewWrapper(nil, src, func(models.ModelConfig) llm.Client { return client }, persona.WithMinLength(5))
		if got := w.Wrap(ctx, agents.Home, "Light on."); got != "Sure thing." {
			t.Errorf("expected rewrite with lower minimum, got %q", got)
		}
	})
}

// ============================================================================
// Hand-off markers
// ============================================================================

func TestDetectHandoff(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantTo      agents.Agent
		wantReason  string
		wantCleaned string
	}{
		{
			name:        "trailing marker",
			content:     "Your balance is $1,200.\n[HANDOFF:scheduling:user wants a reminder]",
			wantTo:      agents.Scheduling,
			wantReason:  "user wants a reminder",
			wantCleaned: "Your balance is $1,200.",
		},
		{
			name:        "case insensitive with alias",
			content:     "I can't draw that. [handoff:draw:needs an image]",
			wantTo:      agents.Image,
			wantReason:  "needs an image",
			wantCleaned: "I can't draw that.",
		},
		{
			name:        "reason optional",
			content:     "[HANDOFF:coding] Let me pass this on.",
			wantTo:      agents.Coding,
			wantCleaned: "Let me pass this on.",
		},
		{
			name:        "unknown agent stripped without hand-off",
			content:     "Hmm. [HANDOFF:plumber:leaky tap]",
			wantCleaned: "Hmm.",
		},
		{
			name:        "no marker",
			content:     "Just an answer [with brackets].",
			wantCleaned: "Just an answer [with brackets].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, cleaned := persona.DetectHandoff(tt.content)
			if cleaned != tt.wantCleaned {
				t.Errorf("cleaned = %q, want %q", cleaned, tt.wantCleaned)
			}
			if tt.wantTo == "" {
				if h != nil {
					t.Errorf("expected no hand-off, got %+v", h)
				}
				return
			}
			if h == nil {
				t.Fatal("expected a hand-off")
			}
			if h.To != tt.wantTo || h.Reason != tt.wantReason {
				t.Errorf("got %+v, want to=%s reason=%q", h, tt.wantTo, tt.wantReason)
			}
		})
	}
}

func TestMarkerFilter(t *testing.T) {
	tests := []struct {
		name    string
		deltas  []string
		want    string
		markers int
	}{
		{
			name:   "plain text passes through",
			deltas: []string{"Hello ", "world"},
			want:   "Hello world",
		},
		{
			name:    "marker split across deltas",
			deltas:  []string{"Done. [HAN", "DOFF:fin", "ance:budget q", "uestion] bye"},
			want:    "Done.  bye",
			markers: 1,
		},
		{
			name:   "bracket that is not a marker",
			deltas: []string{"see [1", "] and [HANDY]"},
			want:   "see [1] and [HANDY]",
		},
		{
			name:   "unclosed marker released on flush",
			deltas: []string{"tail [HANDOFF:home"},
			want:   "tail [HANDOFF:home",
		},
		{
			name:    "lowercase marker",
			deltas:  []string{"ok [handoff:home:lights]"},
			want:    "ok ",
			markers: 1,
		},
		{
			name:   "held prefix released when it diverges",
			deltas: []string{"array[", "0] = 1"},
			want:   "array[0] = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f persona.MarkerFilter
			var sb strings.Builder
			for _, d := range tt.deltas {
				sb.WriteString(f.Write(d))
			}
			sb.WriteString(f.Flush())

			if sb.String() != tt.want {
				t.Errorf("filtered = %q, want %q", sb.String(), tt.want)
			}
			if len(f.Markers()) != tt.markers {
				t.Errorf("markers = %v, want %d", f.Markers(), tt.markers)
			}
		})
	}
}

func TestMarkerFilterHoldsBackPrefix(t *testing.T) {
	var f persona.MarkerFilter
	if got := f.Write("Answer [HAND"); got != "Answer " {
		t.Errorf("expected possible marker to be held back, got %q", got)
	}
	if got := f.Write("OFF:coding:x]"); got != "" {
		t.Errorf("expected completed marker to be dropped, got %q", got)
	}
	if got := f.Flush(); got != "" {
		t.Errorf("expected nothing pending, got %q", got)
	}
}
