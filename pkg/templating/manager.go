package templating

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errExprTooLong = errors.New("expression exceeds maximum length")

// ExpressionErrorHandler receives conditions that failed to evaluate. Such
// failures never abort a render; the handler is the side channel that makes
// them visible.
type ExpressionErrorHandler func(ctx context.Context, err *ExpressionError)

// TemplateManager is the central controller for the templating engine.
// It resolves templates from a Source against a data context, applying
// inheritance, includes, conditionals, loops and variable substitution in
// that order. All methods are concurrent-safe; every render works on its own
// state and the caller's data is never modified.
type TemplateManager struct {
	logger   *slog.Logger
	config   *TemplateConfig
	source   Source
	handlers []ExpressionErrorHandler
	trees    sync.Map // path -> *parsedTree
	mu       sync.RWMutex
}

type parsedTree struct {
	src  string
	tree *Tree
}

// NewTemplateManager creates a TemplateManager that reads templates from
// source. A nil config uses DefaultConfig.
func NewTemplateManager(logger *slog.Logger, source Source, config *TemplateConfig) (*TemplateManager, error) {
	if source == nil {
		return nil, errors.New("templating: nil template source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tm := &TemplateManager{
		logger: logger,
		source: source,
	}
	tm.SetConfig(config)
	logger.Info("Template manager initialized")
	return tm, nil
}

// SetConfig applies a new configuration. Renders already in progress keep
// the configuration they started with.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	c := *config
	if c.MaxIncludeDepth <= 0 {
		c.MaxIncludeDepth = def.MaxIncludeDepth
	}
	if c.MaxInheritanceDepth <= 0 {
		c.MaxInheritanceDepth = def.MaxInheritanceDepth
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = &c
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// OnExpressionError registers a handler for condition evaluation failures.
// Failures are always logged at warn level as well.
func (tm *TemplateManager) OnExpressionError(h ExpressionErrorHandler) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.handlers = append(tm.handlers, h)
}

func (tm *TemplateManager) reportExpr(ctx context.Context, err *ExpressionError) {
	tm.logger.WarnContext(ctx, "Condition evaluation failed",
		slog.String("template", err.Template),
		slog.String("expr", err.Expr),
		slog.Any("error", err.Err),
	)
	tm.mu.RLock()
	handlers := tm.handlers
	tm.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, err)
	}
}

// parse returns the tree for a template, reusing the previous parse while the
// source text is unchanged.
func (tm *TemplateManager) parse(name, src string) *Tree {
	if v, ok := tm.trees.Load(name); ok {
		if pt := v.(*parsedTree); pt.src == src {
			return pt.tree
		}
	}
	t := Parse(name, src)
	tm.trees.Store(name, &parsedTree{src: src, tree: t})
	return t
}

// Forget drops the parsed trees kept for the given template names, or for
// every template when called with none. Call it when templates are removed
// from the source so their trees are not kept alive.
func (tm *TemplateManager) Forget(names ...string) {
	if len(names) == 0 {
		tm.trees.Clear()
		return
	}
	for _, name := range names {
		tm.trees.Delete(name)
	}
}

// cachedTrees returns how many parsed trees are held.
func (tm *TemplateManager) cachedTrees() int {
	n := 0
	tm.trees.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Render resolves the named template against data and writes the result to
// w. Output is written only when the whole render succeeds. Structural
// failures (missing template, parent or include, limits) are returned as
// *Error; failing conditions are reported to the expression error handlers
// and rendering continues.
func (tm *TemplateManager) Render(ctx context.Context, w io.Writer, name string, data any) error {
	st, err := tm.resolveNamed(ctx, name, data)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, st.out.String())
	return err
}

// RenderString is Render into a string.
func (tm *TemplateManager) RenderString(ctx context.Context, name string, data any) (string, error) {
	st, err := tm.resolveNamed(ctx, name, data)
	if err != nil {
		return "", err
	}
	return st.out.String(), nil
}

// RenderText resolves an ad-hoc template body that is not in the store.
// Its parents and includes still come from the store. This is ideal for
// testing or previewing templates without saving them.
func (tm *TemplateManager) RenderText(ctx context.Context, w io.Writer, content string, data any) error {
	return tm.render(ctx, w, Parse("", content), data)
}

func (tm *TemplateManager) resolveNamed(ctx context.Context, name string, data any) (*renderState, error) {
	text, err := tm.source.Load(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			tm.trees.Delete(name)
		}
		if errors.Is(err, ErrTemplateNotFound) || ctx.Err() != nil {
			return nil, err
		}
		return nil, NewError(ErrTemplateNotFound, name, err)
	}
	return tm.resolve(ctx, tm.parse(name, text), data)
}

func (tm *TemplateManager) render(ctx context.Context, w io.Writer, t *Tree, data any) error {
	st, err := tm.resolve(ctx, t, data)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, st.out.String())
	return err
}

func (tm *TemplateManager) resolve(ctx context.Context, t *Tree, data any) (*renderState, error) {
	st := &renderState{
		ctx:    ctx,
		tm:     tm,
		config: tm.GetConfig(),
		root:   t.Name,
	}
	root, err := st.expand(t, 0)
	if err != nil {
		tm.logger.DebugContext(ctx, "Template expansion failed", "template", t.Name, "error", err)
		return nil, err
	}
	if err = root.render(st, NewScope(data)); err != nil {
		return nil, err
	}
	if st.exprErr > 0 {
		tm.logger.DebugContext(ctx, "Rendered with failed conditions", "template", t.Name, "count", st.exprErr)
	}
	return st, nil
}
