package memory

import (
	"github.com/google/cel-go/cel"

	"github.com/fxsml/gopipe-cep/message"
)

// matcher holds a query's matching state. Calls are serialised by the
// owning Query.
type matcher interface {
	match(eventType string, props map[string]any, raw any) []*Bean
}

type statementMatcher struct {
	stmt   statement
	where  cel.Program
	logger message.Logger
}

func (m *statementMatcher) match(eventType string, props map[string]any, raw any) []*Bean {
	if eventType != m.stmt.from {
		return nil
	}
	if m.where != nil {
		ok, err := eval(m.where, map[string]any{m.stmt.alias: props, DefaultAlias: props})
		if err != nil {
			m.logger.Debug("Filter evaluation failed",
				"component", "engine",
				"filter", m.stmt.where,
				"error", err)
			return nil
		}
		if !ok {
			return nil
		}
	}

	if m.stmt.props == nil {
		return []*Bean{{typ: eventType, props: props, underlying: raw}}
	}
	selected := make(map[string]any, len(m.stmt.props))
	for _, p := range m.stmt.props {
		if v, ok := props[p]; ok {
			selected[p] = v
		}
	}
	return []*Bean{{typ: eventType, props: selected, underlying: selected}}
}

type partial struct {
	next     int
	bindings map[string]any
}

type patternMatcher struct {
	pat         pattern
	filters     []cel.Program
	maxPartials int
	logger      message.Logger

	partials []*partial
	started  bool
	done     bool
}

func (m *patternMatcher) match(eventType string, props map[string]any, _ any) []*Bean {
	if m.done {
		return nil
	}
	last := len(m.pat.steps) - 1

	// Advance open partials first so an event never starts and continues
	// the same match.
	var out []*Bean
	kept := m.partials[:0]
	for _, p := range m.partials {
		if m.accepts(p.next, eventType, props, p.bindings) {
			p.bindings[m.pat.steps[p.next].key] = props
			if p.next == last {
				out = append(out, complete(p))
				continue
			}
			p.next++
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(m.partials); i++ {
		m.partials[i] = nil
	}
	m.partials = kept

	if (m.pat.every || !m.started) && m.accepts(0, eventType, props, nil) {
		m.started = true
		p := &partial{next: 1, bindings: map[string]any{m.pat.steps[0].key: props}}
		if last == 0 {
			out = append(out, complete(p))
		} else {
			m.partials = append(m.partials, p)
			m.trim()
		}
	}

	if !m.pat.every && len(out) > 0 {
		m.done = true
		m.partials = nil
	}
	return out
}

func (m *patternMatcher) accepts(i int, eventType string, props map[string]any, bindings map[string]any) bool {
	st := m.pat.steps[i]
	if st.typ != eventType {
		return false
	}
	prg := m.filters[i]
	if prg == nil {
		return true
	}

	vars := make(map[string]any, len(bindings)+2)
	for k, v := range bindings {
		vars[k] = v
	}
	vars[DefaultAlias] = props
	if st.alias != "" {
		vars[st.alias] = props
	}
	ok, err := eval(prg, vars)
	if err != nil {
		m.logger.Debug("Filter evaluation failed",
			"component", "engine",
			"filter", st.filter,
			"error", err)
		return false
	}
	return ok
}

func (m *patternMatcher) trim() {
	drop := len(m.partials) - m.maxPartials
	if drop <= 0 {
		return
	}
	m.partials = append([]*partial(nil), m.partials[drop:]...)
	m.logger.Warn("Dropped partial matches",
		"component", "engine",
		"dropped", drop,
		"max", m.maxPartials)
}

func complete(p *partial) *Bean {
	return &Bean{typ: PatternEventType, props: p.bindings, underlying: p.bindings}
}
