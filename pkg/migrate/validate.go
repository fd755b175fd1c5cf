package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks every migration in dir for a goose-compatible
// filename, a unique version, and Up/Down markers. An empty directory
// passes; a repo can predate its first migration.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("migrations dir is empty")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		match := sqlFileRe.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("migration filename %q does not match YYYYMMDDHHMMSS_name.sql", name)
		}
		version := match[1]
		if prev, dup := seen[version]; dup {
			return fmt.Errorf("version %s appears in both %q and %q", version, prev, name)
		}
		seen[version] = name

		if err := checkGooseMarkers(dir, name); err != nil {
			return err
		}
	}
	return nil
}

func checkGooseMarkers(dir, name string) error {
	full := filepath.Join(dir, name)
	raw, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read file %q: %w", full, err)
	}
	body := string(raw)
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(body, marker) {
			return fmt.Errorf("migration %q missing %q", name, marker)
		}
	}
	return nil
}
