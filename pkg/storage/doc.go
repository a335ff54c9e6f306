// Package storage owns the on-disk directory layout for a runtime root:
// config.json, the branch registry, the snapshot index, the
// standing-reaction registry, and the per-branch journal/snapshot
// directories. It also provides the
// write-then-rename primitive every metadata file in the runtime goes
// through, so a crash mid-write never leaves a half-written file where a
// reader expects a complete one.
//
// pkg/journal and pkg/snapshot lay out their own on-disk formats within
// the directories this package hands back; pkg/dataspace owns its own
// bbolt database file directly under the root, sized and queried
// independently of the append-only journal.
package storage
