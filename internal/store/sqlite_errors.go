package store

import "strings"

// SQLite concurrency failures surface either as SQLITE_BUSY or as a
// "database is locked" message depending on the code path. Both mean the
// write lost a lock race and is worth retrying.

// IsSQLiteBusyError reports whether err is a SQLITE_BUSY failure.
func IsSQLiteBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports whether err is a "database is locked" failure.
func IsSQLiteLockedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports whether err is any retryable SQLite lock
// conflict.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
