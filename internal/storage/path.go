package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchivePath places a session's history archive under its database
// type and the UTC day the session closed.
func BuildArchivePath(databaseType, sessionID string, closedAt time.Time) (string, error) {
	if err := validatePathComponent(databaseType, "database type"); err != nil {
		return "", err
	}
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	ts := closedAt.UTC()
	return path.Join(
		"history",
		databaseType,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("session-%s-%d.parquet", sessionID, ts.Unix()),
	), nil
}

// BuildDictionaryPath returns the object key of a word list, e.g.
// "dictionaries/mysql.txt".
func BuildDictionaryPath(prefix, name string) (string, error) {
	if err := validatePathComponent(name, "dictionary name"); err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name + ".txt", nil
	}
	return path.Join(prefix, name+".txt"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
