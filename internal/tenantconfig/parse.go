package tenantconfig

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parse decodes and validates a raw config blob for handle. Structural
// problems reject the blob with a ConfigError of kind Invalid; dangling
// references are kept as warnings on the returned config.
func Parse(handle string, raw []byte) (*TenantConfig, error) {
	var cfg TenantConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Kind: Invalid, Handle: handle, Problems: []string{"malformed json"}, Err: err}
	}
	if problems := cfg.validate(handle); len(problems) > 0 {
		return nil, &ConfigError{Kind: Invalid, Handle: handle, Problems: problems}
	}
	cfg.index()
	cfg.Warnings = cfg.checkReferences()
	return &cfg, nil
}

func (c *TenantConfig) validate(handle string) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// A blob stored under one tenant's key must never be served to another.
	if c.TenantHandle != handle {
		add("tenant_handle does not match the requested handle")
	}
	if strings.TrimSpace(c.Version) == "" {
		add("version is required")
	}
	if c.ConversationBranches == nil {
		add("conversation_branches is required")
	}
	for id := range c.ConversationBranches {
		if strings.TrimSpace(id) == "" {
			add("conversation_branches contains an empty branch id")
		}
	}

	for _, id := range sortedKeys(c.CTADefinitions) {
		cta := c.CTADefinitions[id]
		if strings.TrimSpace(id) == "" {
			add("cta_definitions contains an empty cta id")
			continue
		}
		if cta.ID != "" && cta.ID != id {
			add("cta %q declares mismatched id %q", id, cta.ID)
		}
		switch cta.Kind {
		case KindExternalLink:
			if cta.URL == "" {
				add("cta %q of kind %s requires url", id, cta.Kind)
			}
		case KindStartForm:
			if cta.FormID == "" {
				add("cta %q of kind %s requires form_id", id, cta.Kind)
			}
		case KindShowBranch:
			if cta.TargetBranch == "" {
				add("cta %q of kind %s requires target_branch", id, cta.Kind)
			}
		default:
			add("cta %q has unsupported kind %q", id, cta.Kind)
		}
	}

	seen := make(map[string]struct{}, len(c.ContentShowcase))
	for i, item := range c.ContentShowcase {
		if strings.TrimSpace(item.ID) == "" {
			add("content_showcase[%d] has an empty id", i)
			continue
		}
		if _, dup := seen[item.ID]; dup {
			add("content_showcase id %q is not unique", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return problems
}

func (c *TenantConfig) index() {
	c.showcaseIndex = make(map[string]int, len(c.ContentShowcase))
	for i, item := range c.ContentShowcase {
		c.showcaseIndex[item.ID] = i
	}
	for id, cta := range c.CTADefinitions {
		if cta.ID == "" {
			cta.ID = id
			c.CTADefinitions[id] = cta
		}
	}
}

func (c *TenantConfig) checkReferences() []Warning {
	var warnings []Warning
	warn := func(code, path, format string, args ...any) {
		warnings = append(warnings, Warning{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	checkRefs := func(path string, available *AvailableCTAs, legacy string) {
		if available != nil && legacy != "" {
			warn(WarnLegacyCTAIgnored, path+".cta_id", "available_ctas takes precedence over cta_id %q", legacy)
		}
		refs, ok := ctaRefs(available, legacy)
		if !ok {
			return
		}
		if refs.Primary != "" {
			if _, found := c.CTADefinitions[refs.Primary]; !found {
				warn(WarnDanglingCTA, path+".primary", "cta %q is not defined", refs.Primary)
			}
		}
		for i, id := range refs.Secondary {
			if _, found := c.CTADefinitions[id]; !found {
				warn(WarnDanglingCTA, fmt.Sprintf("%s.secondary[%d]", path, i), "cta %q is not defined", id)
			}
		}
	}

	for _, id := range sortedKeys(c.ConversationBranches) {
		branch := c.ConversationBranches[id]
		path := "conversation_branches." + id
		if branch.ShowcaseItemID != "" {
			if _, ok := c.showcaseIndex[branch.ShowcaseItemID]; !ok {
				warn(WarnDanglingShowcase, path+".showcase_item_id", "showcase item %q does not exist", branch.ShowcaseItemID)
			}
		}
		checkRefs(path, branch.AvailableCTAs, branch.CTAID)
	}
	for _, item := range c.ContentShowcase {
		checkRefs("content_showcase."+item.ID, item.AvailableCTAs, item.CTAID)
	}
	for _, id := range sortedKeys(c.CTADefinitions) {
		cta := c.CTADefinitions[id]
		if cta.Kind != KindShowBranch {
			continue
		}
		if _, ok := c.ConversationBranches[cta.TargetBranch]; !ok {
			warn(WarnDanglingTarget, "cta_definitions."+id+".target_branch", "branch %q does not exist", cta.TargetBranch)
		}
	}
	if c.FallbackBranchID != "" {
		fallback, ok := c.ConversationBranches[c.FallbackBranchID]
		switch {
		case !ok:
			warn(WarnDanglingFallback, "fallback_branch_id", "branch %q does not exist", c.FallbackBranchID)
		case fallback.ShowcaseItemID != "":
			warn(WarnFallbackHasShowcase, "fallback_branch_id", "showcase on fallback branch %q is ignored", c.FallbackBranchID)
		}
	}
	return warnings
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
