package migration

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	idPattern   = regexp.MustCompile(`^\d{3}_[a-z0-9_]+$`)
	seqPattern  = regexp.MustCompile(`^(\d{3})_`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidationResult describes structural fitness to run. Warnings never halt
// execution; errors do.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (v *ValidationResult) addError(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	v.Valid = false
}

func (v *ValidationResult) addWarning(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Validator performs static correctness checks on migrations and their
// sequence. It is pure and stateless; it touches nothing beyond the
// filesystem listing in ValidateMigrationFiles.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateMigration checks one unit's metadata: required non-empty
// id/description/author/createdAt, id format NNN_snake_case, and an ISO
// calendar date (malformed dates are a warning, not an error).
func (v *Validator) ValidateMigration(m Migration) *ValidationResult {
	res := &ValidationResult{Valid: true}

	if m == nil {
		res.addError("migration is nil")
		return res
	}

	id := m.ID()
	switch {
	case id == "":
		res.addError("migration id is required")
	case !idPattern.MatchString(id):
		res.addError("migration id %q does not match NNN_snake_case_description", id)
	}

	if m.Description() == "" {
		res.addError("migration %s: description is required", id)
	}
	if m.Author() == "" {
		res.addError("migration %s: author is required", id)
	}

	createdAt := m.CreatedAt()
	switch {
	case createdAt == "":
		res.addError("migration %s: createdAt is required", id)
	case !datePattern.MatchString(createdAt):
		res.addWarning("migration %s: createdAt %q is not an ISO date (YYYY-MM-DD)", id, createdAt)
	default:
		if _, err := time.Parse("2006-01-02", createdAt); err != nil {
			res.addWarning("migration %s: createdAt %q is not a valid calendar date", id, createdAt)
		}
	}

	return res
}

// ValidateSequence verifies that the three-digit prefixes of the given ids
// form a gapless, duplicate-free sequence starting at 001. The exact
// missing or duplicated number is named in the error.
func (v *Validator) ValidateSequence(ids []string) *ValidationResult {
	res := &ValidationResult{Valid: true}

	if len(ids) == 0 {
		res.addWarning("no migrations found")
		return res
	}

	seen := make(map[int][]string)
	numbers := make([]int, 0, len(ids))
	for _, id := range ids {
		match := seqPattern.FindStringSubmatch(id)
		if match == nil {
			res.addError("migration %q has no leading 3-digit sequence number", id)
			continue
		}
		n, _ := strconv.Atoi(match[1])
		if len(seen[n]) == 0 {
			numbers = append(numbers, n)
		}
		seen[n] = append(seen[n], id)
	}

	for n, dups := range seen {
		if len(dups) > 1 {
			res.addError("duplicate sequence number %03d: %s", n, strings.Join(dups, ", "))
		}
	}

	if len(numbers) == 0 {
		return res
	}
	sort.Ints(numbers)

	if numbers[0] != 1 {
		res.addError("sequence must start at 001, first found %03d", numbers[0])
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			for missing := numbers[i-1] + 1; missing < numbers[i]; missing++ {
				res.addError("missing sequence number %03d", missing)
			}
		}
	}

	return res
}

// ValidateMigrationFiles lists candidate migration sources in dir and
// applies the sequence check to their names. Entries without a leading
// sequence number are ignored with a warning.
func (v *Validator) ValidateMigrationFiles(dir string) *ValidationResult {
	res := &ValidationResult{Valid: true}

	entries, err := os.ReadDir(dir)
	if err != nil {
		res.addError("failed to read migrations directory %s: %v", dir, err)
		return res
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, "_test.go") || name == "doc.go" {
			continue
		}
		if !seqPattern.MatchString(name) {
			res.addWarning("ignoring %s: no leading sequence number", name)
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".go"))
	}

	seq := v.ValidateSequence(ids)
	res.Errors = append(res.Errors, seq.Errors...)
	res.Warnings = append(res.Warnings, seq.Warnings...)
	res.Valid = res.Valid && seq.Valid

	return res
}

// ValidateMigrationFile checks that a single migration source exists and is
// readable, independent of full metadata validation.
func (v *Validator) ValidateMigrationFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("migration file %s is not loadable: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("migration file %s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("migration file %s is not readable: %w", path, err)
	}
	return f.Close()
}

// NextMigrationNumber returns max(existing)+1 zero-padded to three digits,
// or "001" when no migrations exist.
func (v *Validator) NextMigrationNumber(ids []string) string {
	max := 0
	for _, id := range ids {
		match := seqPattern.FindStringSubmatch(id)
		if match == nil {
			continue
		}
		if n, _ := strconv.Atoi(match[1]); n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1)
}
