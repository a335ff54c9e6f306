// Package journal implements the append-only, segmented turn log: the
// durable source of truth every branch replays from on load. Appends are
// ordered encode -> rotate-if-needed -> write+flush+fsync segment -> update
// in-memory index -> persist index, so a crash can only ever lose the index's
// knowledge of an already-durable record, never corrupt one.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
)

// DefaultSegmentLimit is the default maximum size, in bytes, of one segment
// file before the journal rotates to the next.
const DefaultSegmentLimit = 10 * 1024 * 1024

const segmentFilePattern = "segment-%06d.turnlog"

// entryLocation records where one turn's record lives within the journal.
type entryLocation struct {
	Segment int   `json:"segment"`
	Offset  int64 `json:"offset"`
	Length  int   `json:"length"`
}

// index is the in-memory (and on-disk, via JSON) map from turn id to its
// location, plus the current write cursor.
type index struct {
	Entries        map[turn.TurnID]entryLocation `json:"entries"`
	Order          []turn.TurnID                 `json:"order"`
	CurrentSegment int                            `json:"current_segment"`
	CurrentOffset  int64                          `json:"current_offset"`
}

func newIndex() *index {
	return &index{Entries: make(map[turn.TurnID]entryLocation)}
}

// Journal is the append-only segmented log for one branch.
type Journal struct {
	store        storage.Storage
	branch       ids.BranchId
	dir          string
	indexPath    string
	segmentLimit int64

	idx *index
	cur *os.File
}

// Open opens (or creates) the journal for a branch, rebuilding the index from
// segment files if no index exists on disk.
func Open(store storage.Storage, branch ids.BranchId, segmentLimit int64) (*Journal, error) {
	if segmentLimit <= 0 {
		segmentLimit = DefaultSegmentLimit
	}
	j := &Journal{
		store:        store,
		branch:       branch,
		dir:          store.BranchJournalDir(branch),
		indexPath:    store.BranchIndexPath(branch),
		segmentLimit: segmentLimit,
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Detail: "mkdir", Err: err}
	}

	idx, err := j.loadIndex()
	if err != nil {
		return nil, err
	}
	j.idx = idx

	if err := j.openCurrentForAppend(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) segmentPath(n int) string {
	return filepath.Join(j.dir, fmt.Sprintf(segmentFilePattern, n))
}

func (j *Journal) openCurrentForAppend() error {
	path := j.segmentPath(j.idx.CurrentSegment)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalSegmentNotFound, Segment: j.idx.CurrentSegment, Detail: "open for append", Err: err}
	}
	j.cur = f
	return nil
}

func (j *Journal) loadIndex() (*index, error) {
	if !storage.Exists(j.indexPath) {
		return j.RebuildIndex()
	}
	data, err := storage.ReadFile(j.indexPath)
	if err != nil {
		return nil, &rterrors.JournalError{Kind: rterrors.JournalIndexCorrupted, Detail: "read index", Err: err}
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupted index is not a corrupted journal: rebuild from segments.
		return j.RebuildIndex()
	}
	if idx.Entries == nil {
		idx.Entries = make(map[turn.TurnID]entryLocation)
	}
	return &idx, nil
}

func (j *Journal) persistIndex() error {
	data, err := json.Marshal(j.idx)
	if err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Detail: "marshal index", Err: err}
	}
	if err := storage.WriteAtomic(j.indexPath, data); err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalIndexCorrupted, Detail: "persist index", Err: err}
	}
	return nil
}

// Append encodes and durably appends one turn record, rotating segments if
// necessary, then updates and persists the index. It returns once the record
// is fsynced to disk.
func (j *Journal) Append(r turn.Record) error {
	encoded, err := turn.Encode(r)
	if err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Err: err}
	}
	framed := frame(encoded)

	if j.idx.CurrentOffset+int64(len(framed)) > j.segmentLimit && j.idx.CurrentOffset > 0 {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	offset := j.idx.CurrentOffset
	n, err := j.cur.Write(framed)
	if err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Segment: j.idx.CurrentSegment, Offset: offset, Detail: "write", Err: err}
	}
	if err := j.cur.Sync(); err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Segment: j.idx.CurrentSegment, Offset: offset, Detail: "fsync segment", Err: err}
	}

	j.idx.CurrentOffset += int64(n)
	loc := entryLocation{Segment: j.idx.CurrentSegment, Offset: offset, Length: len(encoded)}
	if _, exists := j.idx.Entries[r.TurnID]; !exists {
		j.idx.Order = append(j.idx.Order, r.TurnID)
	}
	j.idx.Entries[r.TurnID] = loc

	return j.persistIndex()
}

// rotate flushes and fsyncs the current segment, then opens the next one.
func (j *Journal) rotate() error {
	if err := j.cur.Sync(); err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Segment: j.idx.CurrentSegment, Detail: "fsync before rotate", Err: err}
	}
	if err := j.cur.Close(); err != nil {
		return &rterrors.JournalError{Kind: rterrors.JournalEncodingError, Segment: j.idx.CurrentSegment, Detail: "close before rotate", Err: err}
	}
	j.idx.CurrentSegment++
	j.idx.CurrentOffset = 0
	return j.openCurrentForAppend()
}

// Read returns the record for a specific turn id.
func (j *Journal) Read(id turn.TurnID) (turn.Record, error) {
	loc, ok := j.idx.Entries[id]
	if !ok {
		return turn.Record{}, &rterrors.JournalError{Kind: rterrors.JournalTurnNotFound, Detail: string(id)}
	}
	return j.readAt(loc)
}

func (j *Journal) readAt(loc entryLocation) (turn.Record, error) {
	f, err := os.Open(j.segmentPath(loc.Segment))
	if err != nil {
		return turn.Record{}, &rterrors.JournalError{Kind: rterrors.JournalSegmentNotFound, Segment: loc.Segment, Err: err}
	}
	defer f.Close()

	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, loc.Offset+frameHeaderSize); err != nil {
		return turn.Record{}, &rterrors.JournalError{Kind: rterrors.JournalCorruptedSegment, Segment: loc.Segment, Offset: loc.Offset, Err: err}
	}
	r, _, err := turn.Decode(buf)
	if err != nil {
		return turn.Record{}, &rterrors.JournalError{Kind: rterrors.JournalDecodingError, Segment: loc.Segment, Offset: loc.Offset, Err: err}
	}
	return r, nil
}

// IterAll returns every record in the journal in append order.
func (j *Journal) IterAll() ([]turn.Record, error) {
	out := make([]turn.Record, 0, len(j.idx.Order))
	for _, id := range j.idx.Order {
		r, err := j.Read(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// IterFrom returns every record appended at or after turn id from, inclusive,
// in append order.
func (j *Journal) IterFrom(from turn.TurnID) ([]turn.Record, error) {
	all, err := j.IterAll()
	if err != nil {
		return nil, err
	}
	for i, r := range all {
		if r.TurnID == from {
			return all[i:], nil
		}
	}
	return nil, &rterrors.JournalError{Kind: rterrors.JournalTurnNotFound, Detail: string(from)}
}

// Len reports how many records are currently indexed.
func (j *Journal) Len() int { return len(j.idx.Order) }

// Close syncs and closes the current segment file.
func (j *Journal) Close() error {
	if j.cur == nil {
		return nil
	}
	if err := j.cur.Sync(); err != nil {
		return err
	}
	return j.cur.Close()
}

// segmentFiles lists segment files present on disk for this branch, ordered
// by segment number.
func (j *Journal) segmentFiles() ([]int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), segmentFilePattern, &n); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums, nil
}

// RebuildIndex performs a full rescan of every segment file, decoding
// records sequentially and recording their locations. It is used when the
// index file is missing or cannot be parsed, and by ValidateAndRepair at the
// end of every scan.
func (j *Journal) RebuildIndex() (*index, error) {
	idx := newIndex()
	nums, err := j.segmentFiles()
	if err != nil {
		return nil, &rterrors.JournalError{Kind: rterrors.JournalIndexCorrupted, Detail: "list segments", Err: err}
	}
	if len(nums) == 0 {
		return idx, nil
	}

	for _, n := range nums {
		idx.CurrentSegment = n
		path := j.segmentPath(n)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &rterrors.JournalError{Kind: rterrors.JournalSegmentNotFound, Segment: n, Err: err}
		}
		offset := int64(0)
		for offset < int64(len(data)) {
			recLen, payload, ok := unframe(data[offset:])
			if !ok {
				// Truncated or corrupted tail: stop scanning this segment.
				break
			}
			rec, _, err := turn.Decode(payload)
			if err != nil {
				break
			}
			if _, exists := idx.Entries[rec.TurnID]; !exists {
				idx.Order = append(idx.Order, rec.TurnID)
			}
			idx.Entries[rec.TurnID] = entryLocation{Segment: n, Offset: offset, Length: recLen}
			offset += frameHeaderSize + int64(recLen)
		}
		idx.CurrentOffset = offset
	}
	return idx, nil
}

// ValidateAndRepair sequentially decodes every segment, truncating the
// journal at the first corrupt record it finds in a segment and continuing
// the scan with the next segment, then rebuilds and persists the index from
// what remains. It returns the number of bytes truncated.
func (j *Journal) ValidateAndRepair() (int64, error) {
	if j.cur != nil {
		j.cur.Close()
		j.cur = nil
	}

	nums, err := j.segmentFiles()
	if err != nil {
		return 0, &rterrors.JournalError{Kind: rterrors.JournalIndexCorrupted, Detail: "list segments", Err: err}
	}

	var truncated int64
	for _, n := range nums {
		path := j.segmentPath(n)
		data, err := os.ReadFile(path)
		if err != nil {
			return truncated, &rterrors.JournalError{Kind: rterrors.JournalSegmentNotFound, Segment: n, Err: err}
		}
		offset := int64(0)
		for offset < int64(len(data)) {
			recLen, payload, ok := unframe(data[offset:])
			if !ok {
				break
			}
			if _, _, err := turn.Decode(payload); err != nil {
				break
			}
			offset += frameHeaderSize + int64(recLen)
		}
		if offset < int64(len(data)) {
			truncated += int64(len(data)) - offset
			if err := os.Truncate(path, offset); err != nil {
				return truncated, &rterrors.JournalError{Kind: rterrors.JournalCorruptedSegment, Segment: n, Err: err}
			}
		}
	}

	idx, err := j.RebuildIndex()
	if err != nil {
		return truncated, err
	}
	j.idx = idx
	if err := j.persistIndex(); err != nil {
		return truncated, err
	}
	return truncated, j.openCurrentForAppend()
}
