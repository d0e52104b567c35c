package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uticoins/internal/handler"
)

func TestCommandTable(t *testing.T) {
	cmds := commandTable(handler.NewRewardHandler(nil, nil), handler.NewAdminHandler(nil, nil, 14))

	seen := make(map[string]bool)
	for _, c := range cmds {
		assert.True(t, strings.HasPrefix(c.text, "/"), c.text)
		assert.False(t, seen[c.text], "duplicate %s", c.text)
		seen[c.text] = true
		assert.NotNil(t, c.handle, c.text)
		assert.Equal(t, strings.HasPrefix(c.text, "/admin_"), c.admin, c.text)
	}
	assert.True(t, seen["/claim"])
}

func TestMenuHidesAdminCommands(t *testing.T) {
	cmds := commandTable(handler.NewRewardHandler(nil, nil), handler.NewAdminHandler(nil, nil, 14))
	m := menu(cmds)

	require.Len(t, m, 5)
	for _, c := range m {
		assert.False(t, strings.HasPrefix(c.Text, "/"))
		assert.False(t, strings.HasPrefix(c.Text, "admin"))
		assert.NotEmpty(t, c.Description)
	}
}
