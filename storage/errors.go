package storage

import "errors"

// ErrClosed is returned by SaveGraph and LoadGraph of MemoryStorage and
// JSONStorage after Close. Their Exists and Clear do not check for it,
// and the SQLite and PostgreSQL backends do not use it.
var ErrClosed = errors.New("storage: already closed")
