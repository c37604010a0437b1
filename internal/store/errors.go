package store

import "strings"

// isConflict reports SQLite lock contention (SQLITE_BUSY or "database is
// locked"), the only write failures worth retrying.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
