package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"

	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/message"
)

// Config configures an Engine.
type Config struct {
	// MaxPartials caps open partial matches per pattern query; the oldest
	// are dropped first (default: 1024).
	MaxPartials int
	// Logger for query lifecycle and filter failures (default: slog.Default()).
	Logger message.Logger
}

func (c Config) parse() Config {
	if c.MaxPartials <= 0 {
		c.MaxPartials = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine is an in-memory cep.Engine.
type Engine struct {
	cfg Config
	env *cel.Env

	// programs caches compiled filters by variable set and source.
	programs sync.Map

	mu      sync.RWMutex
	queries map[string]*Query
	seq     atomic.Uint64
}

var _ cep.Engine = (*Engine)(nil)

// New creates an engine.
func New(cfg Config) *Engine {
	env, err := cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	if err != nil {
		panic(fmt.Sprintf("memory: create CEL environment: %v", err))
	}
	return &Engine{
		cfg:     cfg.parse(),
		env:     env,
		queries: make(map[string]*Query),
	}
}

// CreateStatement implements cep.Engine.
func (e *Engine) CreateStatement(expr string) (cep.Query, error) {
	stmt, err := parseStatement(expr)
	if err != nil {
		return nil, err
	}
	m := &statementMatcher{stmt: stmt, logger: e.cfg.Logger}
	if stmt.where != "" {
		m.where, err = e.compile(stmt.where, uniq(stmt.alias, DefaultAlias))
		if err != nil {
			return nil, err
		}
	}
	return e.register("statement", expr, m), nil
}

// CreatePattern implements cep.Engine.
func (e *Engine) CreatePattern(expr string) (cep.Query, error) {
	pat, err := parsePattern(expr)
	if err != nil {
		return nil, err
	}
	m := &patternMatcher{
		pat:         pat,
		filters:     make([]cel.Program, len(pat.steps)),
		maxPartials: e.cfg.MaxPartials,
		logger:      e.cfg.Logger,
	}
	vars := []string{DefaultAlias}
	for i, st := range pat.steps {
		if st.alias != "" {
			vars = append(vars, st.alias)
		}
		if st.filter != "" {
			m.filters[i], err = e.compile(st.filter, vars)
			if err != nil {
				return nil, err
			}
		}
		if st.alias == "" && st.key != DefaultAlias && identRe.MatchString(st.key) {
			vars = append(vars, st.key)
		}
	}
	return e.register("pattern", expr, m), nil
}

// SendEvent implements cep.Engine. The event is matched against every
// running query before SendEvent returns; listeners run on the caller's
// goroutine.
func (e *Engine) SendEvent(eventType string, event any) error {
	if eventType == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	props, err := normalize(event)
	if err != nil {
		return err
	}

	e.mu.RLock()
	queries := make([]*Query, 0, len(e.queries))
	for _, q := range e.queries {
		queries = append(queries, q)
	}
	e.mu.RUnlock()

	for _, q := range queries {
		q.process(eventType, props, event)
	}
	return nil
}

// Queries returns the number of queries not yet destroyed.
func (e *Engine) Queries() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}

func (e *Engine) register(kind, expr string, m matcher) *Query {
	q := &Query{
		id:        fmt.Sprintf("%s-%d", kind, e.seq.Add(1)),
		expr:      expr,
		engine:    e,
		matcher:   m,
		listeners: make(map[uint64]cep.Listener),
	}
	e.mu.Lock()
	e.queries[q.id] = q
	e.mu.Unlock()

	e.cfg.Logger.Debug("Query created",
		"component", "engine",
		"query", q.id,
		"expression", expr)
	return q
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	delete(e.queries, id)
	e.mu.Unlock()

	e.cfg.Logger.Debug("Query destroyed",
		"component", "engine",
		"query", id)
}

// compile returns the program for a boolean filter over vars, each bound
// to an event property map.
func (e *Engine) compile(filter string, vars []string) (cel.Program, error) {
	key := strings.Join(vars, ",") + "|" + filter
	if prg, ok := e.programs.Load(key); ok {
		return prg.(cel.Program), nil
	}

	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := e.env.Extend(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	ast, issues := env.Compile(filter)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrSyntax, filter, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: filter %q returns %s, want bool", ErrSyntax, filter, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrSyntax, filter, err)
	}
	e.programs.Store(key, prg)
	return prg, nil
}

func eval(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %v, want bool", out.Type())
	}
	return b, nil
}

func uniq(vals ...string) []string {
	out := vals[:0]
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
