package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodename(t *testing.T) {
	for range 50 {
		name := GenerateCodename()
		parts := strings.Split(name, "-")
		require.Len(t, parts, 2, name)
		assert.Contains(t, codenameAdjectives, parts[0])
		assert.Contains(t, codenameNouns, parts[1])
	}
}

func TestGenerateCodenameVaries(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		seen[GenerateCodename()] = true
	}
	assert.Greater(t, len(seen), 10)
}
