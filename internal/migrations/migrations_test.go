package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	for _, service := range []string{"orders", "products"} {
		ups, err := fs.Glob(files, service+"/*.up.sql")
		require.NoError(t, err)
		downs, err := fs.Glob(files, service+"/*.down.sql")
		require.NoError(t, err)
		assert.NotEmpty(t, ups, service)
		assert.Len(t, downs, len(ups), service)
	}
}

func TestUp_UnknownService(t *testing.T) {
	assert.Error(t, Up("postgres://localhost/none?sslmode=disable", "billing"))
}
