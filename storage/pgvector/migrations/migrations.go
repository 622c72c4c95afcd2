package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"

	"github.com/psanford/memfs"
)

//go:embed *.sql
var migrations embed.FS

var ErrInvalidIdentifier = errors.New("schema and prefix may only contain lowercase letters, digits and underscores")

// Schema and prefix are pasted into SQL as is, so only plain identifiers are accepted.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ValidateIdentifiers(schema string, prefix string) error {
	if !identifierPattern.MatchString(schema) {
		return fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, schema)
	}
	if prefix != "" && !identifierPattern.MatchString(prefix) {
		return fmt.Errorf("%w: prefix %q", ErrInvalidIdentifier, prefix)
	}
	return nil
}

// Returns migrations with SCHEMA_NAME, DATABASE_PREFIX_ and VECTOR_DIMENSIONS placeholders replaced.
func PrepareMigrations(schema string, prefix string, vectorDimensions uint32) (fs.FS, error) {
	if err := ValidateIdentifiers(schema, prefix); err != nil {
		return nil, err
	}
	if vectorDimensions == 0 {
		return nil, errors.New("vector dimensions must be positive")
	}

	rootFS := memfs.New()

	entries, err := migrations.ReadDir(".")
	if err != nil {
		return nil, errors.Join(errors.New("failed to read migrations directory"), err)
	}
	replacer := strings.NewReplacer(
		"SCHEMA_NAME", schema,
		"DATABASE_PREFIX_", prefix,
		"VECTOR_DIMENSIONS", fmt.Sprintf("%d", vectorDimensions),
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		file, err := migrations.Open(entry.Name())
		if err != nil {
			return nil, err
		}
		fileData, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to read migration %s", entry.Name()), err)
		}

		if err := rootFS.WriteFile(entry.Name(), []byte(replacer.Replace(string(fileData))), 0644); err != nil {
			return nil, err
		}
	}

	return rootFS, nil
}
