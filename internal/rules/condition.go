package rules

import (
	"os"
	"time"
)

// EvalContext carries the per-call facts a Condition may need.
type EvalContext struct {
	Now         time.Time
	UserIdentity string
	FileSize    int64
	ModifiedAt  time.Time
}

// Condition decides, given a matched rule and the current call context,
// whether that rule actually applies.
type Condition interface {
	Evaluate(ctx EvalContext) bool
}

// Always matches unconditionally.
type Always struct{}

func (Always) Evaluate(EvalContext) bool { return true }

// TimeRange matches when ctx.Now falls within [Start, End).
type TimeRange struct {
	Start, End time.Time
}

func (t TimeRange) Evaluate(ctx EvalContext) bool {
	return !ctx.Now.Before(t.Start) && ctx.Now.Before(t.End)
}

// UserIdentityMatch matches when ctx.UserIdentity equals Identity.
type UserIdentityMatch struct {
	Identity string
}

func (u UserIdentityMatch) Evaluate(ctx EvalContext) bool {
	return ctx.UserIdentity == u.Identity
}

// FileSizeRange matches when ctx.FileSize falls within [Min, Max].
type FileSizeRange struct {
	Min, Max int64
}

func (f FileSizeRange) Evaluate(ctx EvalContext) bool {
	return ctx.FileSize >= f.Min && ctx.FileSize <= f.Max
}

// ModifiedWithin matches when ctx.ModifiedAt is within Duration of Now.
type ModifiedWithin struct {
	Duration time.Duration
}

func (m ModifiedWithin) Evaluate(ctx EvalContext) bool {
	return ctx.Now.Sub(ctx.ModifiedAt) <= m.Duration
}

// EnvVarMatch matches when the named environment variable equals Value.
type EnvVarMatch struct {
	Name  string
	Value string
}

func (e EnvVarMatch) Evaluate(EvalContext) bool {
	return os.Getenv(e.Name) == e.Value
}

// And matches when every sub-condition matches.
type And struct {
	Conditions []Condition
}

func (a And) Evaluate(ctx EvalContext) bool {
	for _, c := range a.Conditions {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Or matches when any sub-condition matches.
type Or struct {
	Conditions []Condition
}

func (o Or) Evaluate(ctx EvalContext) bool {
	for _, c := range o.Conditions {
		if c.Evaluate(ctx) {
			return true
		}
	}
	return false
}
