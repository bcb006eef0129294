// Package tenantconfig loads, validates and caches per-tenant widget
// configuration keyed by an opaque tenant handle.
package tenantconfig

// CTA kinds.
const (
	KindExternalLink = "external_link"
	KindStartForm    = "start_form"
	KindShowBranch   = "show_branch"
)

// TenantConfig is the validated configuration for one tenant. A loaded value
// is never mutated; a refresh replaces the whole pointer.
type TenantConfig struct {
	TenantHandle         string            `json:"tenant_handle"`
	Version              string            `json:"version"`
	ConversationBranches map[string]Branch `json:"conversation_branches"`
	CTADefinitions       map[string]CTA    `json:"cta_definitions"`
	ContentShowcase      []ShowcaseItem    `json:"content_showcase,omitempty"`
	FallbackBranchID     string            `json:"fallback_branch_id,omitempty"`

	// Warnings are reference problems found at load time. They degrade
	// routing for the affected branch but do not reject the config.
	Warnings []Warning `json:"-"`

	showcaseIndex map[string]int
}

// AvailableCTAs is the CTA set carried by a branch or showcase item.
type AvailableCTAs struct {
	Primary   string   `json:"primary,omitempty"`
	Secondary []string `json:"secondary,omitempty"`
}

// Branch is a node in the tenant's conversation graph.
type Branch struct {
	ShowcaseItemID string         `json:"showcase_item_id,omitempty"`
	AvailableCTAs  *AvailableCTAs `json:"available_ctas,omitempty"`

	// CTAID is the deprecated single-CTA form, equivalent to
	// available_ctas.primary with no secondary.
	CTAID string `json:"cta_id,omitempty"`

	// DetectionKeywords are advisory hints for picking a branch from the
	// user's text when nothing more explicit is known.
	DetectionKeywords []string `json:"detection_keywords,omitempty"`
}

// CTARefs returns the branch's CTA references, honouring the legacy cta_id.
// ok is false when the branch defines no CTA source at all.
func (b Branch) CTARefs() (AvailableCTAs, bool) {
	return ctaRefs(b.AvailableCTAs, b.CTAID)
}

// CTA is a single call to action.
type CTA struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Kind         string `json:"kind"`
	URL          string `json:"url,omitempty"`
	FormID       string `json:"form_id,omitempty"`
	TargetBranch string `json:"target_branch,omitempty"`
	Style        string `json:"style,omitempty"`
}

// ShowcaseItem is a presentational content unit with its own CTA set.
type ShowcaseItem struct {
	ID            string         `json:"id"`
	Title         string         `json:"title,omitempty"`
	Tagline       string         `json:"tagline,omitempty"`
	Description   string         `json:"description,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	Highlights    []string       `json:"highlights,omitempty"`
	AvailableCTAs *AvailableCTAs `json:"available_ctas,omitempty"`
	CTAID         string         `json:"cta_id,omitempty"`
}

// CTARefs mirrors Branch.CTARefs for showcase items.
func (s ShowcaseItem) CTARefs() (AvailableCTAs, bool) {
	return ctaRefs(s.AvailableCTAs, s.CTAID)
}

func ctaRefs(available *AvailableCTAs, legacy string) (AvailableCTAs, bool) {
	if available != nil {
		return *available, true
	}
	if legacy != "" {
		return AvailableCTAs{Primary: legacy}, true
	}
	return AvailableCTAs{}, false
}

// Showcase looks up a showcase item by id.
func (c *TenantConfig) Showcase(id string) (ShowcaseItem, bool) {
	if c == nil || id == "" {
		return ShowcaseItem{}, false
	}
	if c.showcaseIndex != nil {
		i, ok := c.showcaseIndex[id]
		if !ok {
			return ShowcaseItem{}, false
		}
		return c.ContentShowcase[i], true
	}
	for _, item := range c.ContentShowcase {
		if item.ID == id {
			return item, true
		}
	}
	return ShowcaseItem{}, false
}

// Branch looks up a conversation branch by id.
func (c *TenantConfig) Branch(id string) (Branch, bool) {
	if c == nil || id == "" {
		return Branch{}, false
	}
	b, ok := c.ConversationBranches[id]
	return b, ok
}

// CTA looks up a CTA definition by id.
func (c *TenantConfig) CTA(id string) (CTA, bool) {
	if c == nil || id == "" {
		return CTA{}, false
	}
	cta, ok := c.CTADefinitions[id]
	if ok && cta.ID == "" {
		cta.ID = id
	}
	return cta, ok
}

// Warning codes recorded at load time.
const (
	WarnDanglingCTA         = "dangling_cta"
	WarnDanglingShowcase    = "dangling_showcase"
	WarnDanglingFallback    = "dangling_fallback"
	WarnDanglingTarget      = "dangling_target_branch"
	WarnLegacyCTAIgnored    = "legacy_cta_id_ignored"
	WarnFallbackHasShowcase = "fallback_has_showcase"
)

// Warning describes a non-fatal reference problem in a loaded config.
type Warning struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Code + " at " + w.Path + ": " + w.Message
}
