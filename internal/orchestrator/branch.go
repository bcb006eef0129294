package orchestrator

import (
	"sort"
	"strings"
	"unicode"

	"github.com/wolfman30/widgetchat/internal/tenantconfig"
)

// selectBranch picks the branch a reply is routed to: an explicit client
// hint, then the responder's choice, then advisory detection keywords.
// An empty result routes to the fallback tier.
func selectBranch(cfg *tenantconfig.TenantConfig, hint, suggested, userText string) string {
	if _, ok := cfg.Branch(hint); ok {
		return hint
	}
	if _, ok := cfg.Branch(suggested); ok {
		return suggested
	}
	return matchKeywords(cfg, userText)
}

func matchKeywords(cfg *tenantconfig.TenantConfig, text string) string {
	words := tokenize(text)
	if len(words) == 0 {
		return ""
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	joined := " " + strings.Join(words, " ") + " "

	for _, id := range branchIDs(cfg) {
		for _, kw := range cfg.ConversationBranches[id].DetectionKeywords {
			kw = strings.Join(tokenize(kw), " ")
			if kw == "" {
				continue
			}
			if strings.Contains(kw, " ") {
				if strings.Contains(joined, " "+kw+" ") {
					return id
				}
				continue
			}
			if _, ok := set[kw]; ok {
				return id
			}
		}
	}
	return ""
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func branchIDs(cfg *tenantconfig.TenantConfig) []string {
	ids := make([]string, 0, len(cfg.ConversationBranches))
	for id := range cfg.ConversationBranches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
