package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/widgetchat/internal/tenantconfig"
)

func TestSelectBranch(t *testing.T) {
	cfg, err := tenantconfig.Parse(tenantA, configFor(tenantA))
	require.NoError(t, err)

	assert.Equal(t, "donations", selectBranch(cfg, "donations", "programs", "camp"))
	assert.Equal(t, "programs", selectBranch(cfg, "", "programs", "donate"))
	assert.Equal(t, "donations", selectBranch(cfg, "", "ghost", "I'd like to DONATE."))
	assert.Equal(t, "", selectBranch(cfg, "", "", "campfire stories"), "keywords match whole words")
	assert.Equal(t, "", selectBranch(cfg, "", "", ""))
}

func TestTokenizeSplitsOnUnicodePunctuation(t *testing.T) {
	assert.Equal(t, []string{"donate", "más"}, tokenize("Donate… más"))
	assert.Equal(t, []string{"cómo", "ayudar"}, tokenize("¿Cómo ayudar?"))
	assert.Equal(t, []string{"camp", "2024"}, tokenize("camp—2024"))

	cfg, err := tenantconfig.Parse(tenantA, configFor(tenantA))
	require.NoError(t, err)
	assert.Equal(t, "donations", selectBranch(cfg, "", "", "I want to donate…"))
}
