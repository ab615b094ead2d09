package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMigration(t *testing.T) {
	tests := []struct {
		name         string
		m            Migration
		wantValid    bool
		wantErrors   int
		wantWarnings int
	}{
		{
			name:      "valid migration",
			m:         &stubMigration{id: "001_add_user_timezone", description: "Add timezone", author: "a@b.c", createdAt: "2025-11-04"},
			wantValid: true,
		},
		{
			name:       "empty id",
			m:          &stubMigration{description: "d", author: "a", createdAt: "2025-11-04"},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name:       "uppercase id rejected",
			m:          &stubMigration{id: "001_Add_Timezone", description: "d", author: "a", createdAt: "2025-11-04"},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name:       "missing prefix rejected",
			m:          &stubMigration{id: "add_timezone", description: "d", author: "a", createdAt: "2025-11-04"},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name:       "missing description and author",
			m:          &stubMigration{id: "001_x", createdAt: "2025-11-04"},
			wantValid:  false,
			wantErrors: 2,
		},
		{
			name:       "missing createdAt",
			m:          &stubMigration{id: "001_x", description: "d", author: "a"},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name:         "non-ISO createdAt is a warning",
			m:            &stubMigration{id: "001_x", description: "d", author: "a", createdAt: "Nov 4 2025"},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name:         "impossible calendar date is a warning",
			m:            &stubMigration{id: "001_x", description: "d", author: "a", createdAt: "2025-13-45"},
			wantValid:    true,
			wantWarnings: 1,
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateMigration(tt.m)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Len(t, res.Errors, tt.wantErrors)
			assert.Len(t, res.Warnings, tt.wantWarnings)
		})
	}
}

func TestValidateSequence(t *testing.T) {
	v := NewValidator()

	t.Run("gapless sequence is valid", func(t *testing.T) {
		res := v.ValidateSequence([]string{"001_a", "002_b", "003_c"})
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("order of input does not matter", func(t *testing.T) {
		res := v.ValidateSequence([]string{"003_c", "001_a", "002_b"})
		assert.True(t, res.Valid)
	})

	t.Run("missing number is named", func(t *testing.T) {
		res := v.ValidateSequence([]string{"001_a", "003_c"})
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "missing sequence number 002")
	})

	t.Run("multiple gaps name every missing number", func(t *testing.T) {
		res := v.ValidateSequence([]string{"001_a", "004_d"})
		require.False(t, res.Valid)
		assert.Len(t, res.Errors, 2)
		assert.Contains(t, res.Errors[0], "002")
		assert.Contains(t, res.Errors[1], "003")
	})

	t.Run("duplicate number is named", func(t *testing.T) {
		res := v.ValidateSequence([]string{"001_a", "001_b", "002_c"})
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "duplicate sequence number 001")
		assert.Contains(t, res.Errors[0], "001_a")
		assert.Contains(t, res.Errors[0], "001_b")
	})

	t.Run("must start at 001", func(t *testing.T) {
		res := v.ValidateSequence([]string{"002_b", "003_c"})
		require.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "start at 001")
	})

	t.Run("id without prefix is an error", func(t *testing.T) {
		res := v.ValidateSequence([]string{"001_a", "nope"})
		require.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "no leading 3-digit sequence number")
	})

	t.Run("empty set warns", func(t *testing.T) {
		res := v.ValidateSequence(nil)
		assert.True(t, res.Valid)
		assert.Len(t, res.Warnings, 1)
	})
}

func TestValidateMigrationFiles(t *testing.T) {
	v := NewValidator()

	t.Run("valid directory", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"001_add_user_timezone.go", "002_add_subscription_indexes.go", "doc.go", "001_add_user_timezone_test.go"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package migrations\n"), 0o644))
		}

		res := v.ValidateMigrationFiles(dir)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("gap in filenames", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"001_a.go", "003_c.go"} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package migrations\n"), 0o644))
		}

		res := v.ValidateMigrationFiles(dir)
		require.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "missing sequence number 002")
	})

	t.Run("unrelated file warns", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.go"), []byte("package migrations\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.go"), []byte("package migrations\n"), 0o644))

		res := v.ValidateMigrationFiles(dir)
		assert.True(t, res.Valid)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "helpers.go")
	})

	t.Run("missing directory", func(t *testing.T) {
		res := v.ValidateMigrationFiles(filepath.Join(t.TempDir(), "nope"))
		assert.False(t, res.Valid)
	})
}

func TestValidateMigrationFile(t *testing.T) {
	v := NewValidator()

	t.Run("readable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "001_a.go")
		require.NoError(t, os.WriteFile(path, []byte("package migrations\n"), 0o644))
		assert.NoError(t, v.ValidateMigrationFile(path))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, v.ValidateMigrationFile(filepath.Join(t.TempDir(), "nope.go")))
	})

	t.Run("directory is rejected", func(t *testing.T) {
		assert.Error(t, v.ValidateMigrationFile(t.TempDir()))
	})
}

func TestNextMigrationNumber(t *testing.T) {
	v := NewValidator()

	assert.Equal(t, "001", v.NextMigrationNumber(nil))
	assert.Equal(t, "002", v.NextMigrationNumber([]string{"001_a"}))
	assert.Equal(t, "004", v.NextMigrationNumber([]string{"001_a", "003_c"}))
	assert.Equal(t, "010", v.NextMigrationNumber([]string{"009_i"}))
	assert.Equal(t, "001", v.NextMigrationNumber([]string{"garbage"}))
}
