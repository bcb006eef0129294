// Package routing decides which CTAs and showcase item accompany a reply.
package routing

import (
	"fmt"

	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// DefaultMaxSecondary caps secondary CTAs when no limit is configured.
const DefaultMaxSecondary = 5

// Tier records which policy tier produced the CTAs.
type Tier int

const (
	TierNone Tier = iota
	TierShowcase
	TierBranch
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierShowcase:
		return "showcase"
	case TierBranch:
		return "branch"
	case TierFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Warning kinds.
const (
	WarnUnknownBranch      = "unknown_branch"
	WarnDanglingShowcase   = "dangling_showcase"
	WarnDanglingCTA        = "dangling_cta"
	WarnDanglingFallback   = "dangling_fallback"
	WarnSecondaryTruncated = "secondary_truncated"
)

// Warning is a reference problem absorbed during resolution.
type Warning struct {
	Kind     string
	BranchID string
	Ref      string
	Message  string
}

// Resolved is the enrichment attached to a reply. Secondary is never nil.
type Resolved struct {
	Showcase  *tenantconfig.ShowcaseItem
	Primary   *tenantconfig.CTA
	Secondary []tenantconfig.CTA
	Tier      Tier
	Warnings  []Warning
}

// Empty reports whether no CTA was selected.
func (r Resolved) Empty() bool {
	return r.Primary == nil && len(r.Secondary) == 0
}

// WarningObserver counts warnings by kind.
type WarningObserver interface {
	ObserveRoutingWarning(kind string)
}

// Options configures an Engine.
type Options struct {
	MaxSecondary int
	Observer     WarningObserver
	Logger       *logging.Logger
}

// Engine resolves CTAs. It holds no per-request state and never suspends.
type Engine struct {
	maxSecondary int
	observer     WarningObserver
	logger       *logging.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.MaxSecondary <= 0 {
		opts.MaxSecondary = DefaultMaxSecondary
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Engine{
		maxSecondary: opts.MaxSecondary,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// Resolve applies the tiers in order: the branch's showcase item, then the
// branch's own CTAs, then the fallback branch's CTAs. A tier succeeds only
// when it yields at least one CTA. Reference errors become warnings.
func (e *Engine) Resolve(branchID string, cfg *tenantconfig.TenantConfig) Resolved {
	res := Resolved{Secondary: []tenantconfig.CTA{}}
	if cfg == nil {
		return res
	}
	r := resolution{engine: e, cfg: cfg, res: &res}

	if branchID != "" {
		branch, ok := cfg.Branch(branchID)
		if !ok {
			r.warn(WarnUnknownBranch, branchID, branchID, "branch is not defined")
		} else {
			if branch.ShowcaseItemID != "" {
				item, found := cfg.Showcase(branch.ShowcaseItemID)
				if !found {
					r.warn(WarnDanglingShowcase, branchID, branch.ShowcaseItemID, "showcase item is not defined")
				} else {
					// The item is presented even if its CTAs come up empty.
					res.Showcase = &item
					if refs, has := item.CTARefs(); has && r.apply(branchID, refs) {
						res.Tier = TierShowcase
						return r.finish()
					}
				}
			}
			if refs, has := branch.CTARefs(); has && r.apply(branchID, refs) {
				res.Tier = TierBranch
				return r.finish()
			}
		}
	}

	fallbackID := cfg.FallbackBranchID
	if fallbackID == "" || fallbackID == branchID {
		return r.finish()
	}
	fallback, ok := cfg.Branch(fallbackID)
	if !ok {
		r.warn(WarnDanglingFallback, fallbackID, fallbackID, "fallback branch is not defined")
		return r.finish()
	}
	// Depth 1: the fallback's showcase is ignored.
	if refs, has := fallback.CTARefs(); has && r.apply(fallbackID, refs) {
		res.Tier = TierFallback
	}
	return r.finish()
}

type resolution struct {
	engine *Engine
	cfg    *tenantconfig.TenantConfig
	res    *Resolved
}

// apply resolves refs into the result and reports whether any CTA resolved.
func (r *resolution) apply(branchID string, refs tenantconfig.AvailableCTAs) bool {
	var primary *tenantconfig.CTA
	if refs.Primary != "" {
		if cta, ok := r.cfg.CTA(refs.Primary); ok {
			primary = &cta
		} else {
			r.warn(WarnDanglingCTA, branchID, refs.Primary, "primary cta is not defined")
		}
	}

	secondary := make([]tenantconfig.CTA, 0, len(refs.Secondary))
	seen := make(map[string]struct{}, len(refs.Secondary)+1)
	if refs.Primary != "" {
		seen[refs.Primary] = struct{}{}
	}
	for _, id := range refs.Secondary {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cta, ok := r.cfg.CTA(id)
		if !ok {
			r.warn(WarnDanglingCTA, branchID, id, "secondary cta is not defined")
			continue
		}
		secondary = append(secondary, cta)
	}
	if limit := r.engine.maxSecondary; len(secondary) > limit {
		r.warn(WarnSecondaryTruncated, branchID, "", fmt.Sprintf("dropped %d secondary ctas over the limit of %d", len(secondary)-limit, limit))
		secondary = secondary[:limit]
	}

	if primary == nil && len(secondary) == 0 {
		return false
	}
	r.res.Primary = primary
	r.res.Secondary = secondary
	return true
}

func (r *resolution) warn(kind, branchID, ref, msg string) {
	r.res.Warnings = append(r.res.Warnings, Warning{Kind: kind, BranchID: branchID, Ref: ref, Message: msg})
}

func (r *resolution) finish() Resolved {
	e := r.engine
	for _, w := range r.res.Warnings {
		e.logger.Warn("cta routing warning",
			"tenant", tenancy.LogHandle(r.cfg.TenantHandle),
			"version", r.cfg.Version,
			"kind", w.Kind,
			"branch", w.BranchID,
			"ref", w.Ref,
		)
		if e.observer != nil {
			e.observer.ObserveRoutingWarning(w.Kind)
		}
	}
	return *r.res
}
