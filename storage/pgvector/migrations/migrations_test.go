package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareMigrations_AllFilesPlaceholdersReplaced(t *testing.T) {
	resultFS, err := PrepareMigrations("test_schema", "app_", 768)
	require.NoError(t, err)

	entries, err := fs.ReadDir(resultFS, ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries, "no migration files found in resulting fs")

	var up, down int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		content, err := fs.ReadFile(resultFS, entry.Name())
		require.NoError(t, err)
		text := string(content)

		assert.NotContains(t, text, "SCHEMA_NAME", entry.Name())
		assert.NotContains(t, text, "DATABASE_PREFIX_", entry.Name())
		assert.NotContains(t, text, "VECTOR_DIMENSIONS", entry.Name())
		assert.Contains(t, text, "test_schema.app_chunk", entry.Name())

		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			up++
			assert.Contains(t, text, "vector(768)")
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			down++
		}
	}
	assert.Equal(t, up, down, "every up migration needs a down migration")
}

func TestPrepareMigrations_RejectsUnsafeIdentifiers(t *testing.T) {
	for _, schema := range []string{"", "Public", "x; DROP TABLE y", "1abc"} {
		_, err := PrepareMigrations(schema, "app_", 768)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, schema)
	}

	_, err := PrepareMigrations("public", "bad-prefix", 768)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = PrepareMigrations("public", "", 768)
	assert.NoError(t, err)

	_, err = PrepareMigrations("public", "app_", 0)
	assert.Error(t, err)
}
