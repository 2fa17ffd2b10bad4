package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDProducesUniqueUUIDv7(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := make(map[string]struct{})
	for range 100 {
		id, err := gen.NewID()
		require.NoError(t, err)

		parsed, err := guuid.Parse(id)
		require.NoError(t, err)
		require.Equal(t, guuid.Version(7), parsed.Version())

		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
