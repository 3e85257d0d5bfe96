// Package persistence provides SQLite storage for broker sessions and trading journal
// entries. The store runs in WAL mode and creates its schema on open.
package persistence
