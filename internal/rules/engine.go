package rules

import "sort"

// Engine holds a registered, priority-ordered set of rules and resolves a
// path against them.
type Engine struct {
	rules []*Rule
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Register adds a rule to the engine, compiling it if needed, and keeps
// the rule list sorted in descending priority (registration order breaks
// ties).
func (e *Engine) Register(r *Rule) error {
	if err := r.Compile(); err != nil {
		return err
	}
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
	return nil
}

// Resolve consults the rule set in descending priority order and returns
// the first rule whose pattern matches path and whose condition
// evaluates true against ctx.
func (e *Engine) Resolve(path string, ctx EvalContext) (*Rule, bool) {
	for _, r := range e.rules {
		if !r.Matches(path) {
			continue
		}
		cond := r.Condition
		if cond == nil {
			cond = Always{}
		}
		if cond.Evaluate(ctx) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the currently registered rule set in consultation order.
func (e *Engine) Rules() []*Rule {
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
