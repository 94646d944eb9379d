package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate(`user {{.user}} viewed {{json .items}} ({{join "," .tags}}) {{default "none" .missing}}`, map[string]any{
		"user":  "U1",
		"items": []string{"P1", "P<2>"},
		"tags":  []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, `user U1 viewed ["P1","P<2>"] (a,b) none`, out)
}

func TestRenderTemplate_PlainAndBroken(t *testing.T) {
	out, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	_, err = RenderTemplate("{{.x", nil)
	assert.Error(t, err)
	assert.Equal(t, "{{.x", MustRenderTemplate("{{.x", nil))
}
