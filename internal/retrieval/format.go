package retrieval

import (
	"fmt"
	"strings"
	"sync"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
	"convmem/internal/tokenizer"
)

// Default template names; these cannot be overwritten by RegisterTemplate.
const (
	TemplateChat     = "chat"
	TemplateDetailed = "detailed"
	TemplateSummary  = "summary"
)

// Template defines a per-memory format string and the separator joining
// consecutive entries. {type}, {content}, {confidence}, {created_at} and
// metadata.<key> placeholders are substituted per memory.
type Template struct {
	Format    string
	Separator string
}

var (
	chatTemplate     = Template{Format: "[{type}] {content}", Separator: "\n"}
	detailedTemplate = Template{Format: "[{type}] {content} (confidence: {confidence}, recorded: {created_at})", Separator: "\n\n"}
	summaryTemplate  = Template{Format: "{content}", Separator: " "}
)

type templateRegistry struct {
	mu        sync.RWMutex
	byName    map[string]Template
	protected map[string]bool
}

func newTemplateRegistry() *templateRegistry {
	reg := &templateRegistry{byName: make(map[string]Template), protected: make(map[string]bool)}
	defaults := map[string]Template{
		TemplateChat:     chatTemplate,
		TemplateDetailed: detailedTemplate,
		TemplateSummary:  summaryTemplate,
	}
	for name, t := range defaults {
		reg.byName[name] = t
		reg.protected[name] = true
	}
	return reg
}

func (reg *templateRegistry) register(name string, t Template) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.protected[name] {
		panic("retrieval: cannot overwrite default template " + name)
	}
	reg.byName[name] = t
	return nil
}

func (reg *templateRegistry) get(name string) (Template, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	t, ok := reg.byName[name]
	if !ok {
		return Template{}, pipelineerr.New(pipelineerr.KindTemplateNotFound, "unknown template: "+name)
	}
	return t, nil
}

// render substitutes a Template's placeholders for a single memory.
func render(tmpl Template, m model.ExtractedMemory) string {
	s := tmpl.Format
	s = strings.ReplaceAll(s, "{type}", m.Type)
	s = strings.ReplaceAll(s, "{content}", m.Content)
	s = strings.ReplaceAll(s, "{confidence}", fmt.Sprintf("%.2f", m.Confidence))
	s = strings.ReplaceAll(s, "{created_at}", m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	for k, v := range m.Metadata {
		s = strings.ReplaceAll(s, "{metadata."+k+"}", v)
	}
	return s
}

// format greedily adds ranked memories in rank order, tokenizing each
// candidate addition (including the separator before it) and stopping
// before the first addition that would exceed budget.
func format(ranked []Scored, tmpl Template, budget int, tokens *tokenizer.Counter) ContextResult {
	var b strings.Builder
	var included []model.ExtractedMemory
	total := 0
	truncated := false

	for i, r := range ranked {
		piece := render(tmpl, r.Memory)
		candidate := piece
		if i > 0 {
			candidate = tmpl.Separator + piece
		}
		count := tokens.Count(tokenizer.MethodExactBPE, candidate)
		if total+count > budget {
			truncated = true
			break
		}
		b.WriteString(candidate)
		total += count
		included = append(included, r.Memory)
	}
	if len(included) < len(ranked) {
		truncated = true
	}

	return ContextResult{Text: b.String(), Memories: included, TokenCount: total, Truncated: truncated}
}
