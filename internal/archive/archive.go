// Package archive stores drained node records on the receiver host.
//
// Records are keyed by their 16-byte wire form under a per-node prefix, so
// iteration is chronological and a record exported twice (a drain repeated
// after a lost reset report) is stored once.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"nodelog/flash"
	"nodelog/flashlog"
)

const (
	prefixRecord = "r/"
	prefixMeta   = "m/"
)

type Options struct {
	Dir  string
	Sync bool // fsync every commit
	// Pebble allows tests to pass e.g. an in-memory FS.
	Pebble *pebble.Options
}

type Archive struct {
	db   *pebble.DB
	sync *pebble.WriteOptions
}

// Entry is a stored record with the time the receiver first saw it.
type Entry struct {
	Node     string
	Record   flashlog.Record
	Received time.Time
}

func Open(opts Options) (*Archive, error) {
	if opts.Dir == "" {
		return nil, errors.New("archive: Options.Dir is required")
	}
	po := opts.Pebble
	if po == nil {
		po = &pebble.Options{}
	}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", opts.Dir, err)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Archive{db: db, sync: wo}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func recordKey(node string, rec flashlog.Record) []byte {
	k := make([]byte, 0, len(prefixRecord)+len(node)+1+flash.RecordSize)
	k = append(k, prefixRecord...)
	k = append(k, node...)
	k = append(k, 0)
	return rec.AppendWire(k)
}

func nodeBounds(node string) (lo, hi []byte) {
	lo = append(append([]byte(prefixRecord), node...), 0)
	hi = append(append([]byte(prefixRecord), node...), 1)
	return lo, hi
}

// Put stores recs for node in one batch and returns how many were new.
func (a *Archive) Put(node string, recs []flashlog.Record, at time.Time) (int, error) {
	b := a.db.NewIndexedBatch()
	defer b.Close()

	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(at.UnixNano()))
	added := 0
	for _, rec := range recs {
		k := recordKey(node, rec)
		_, closer, err := b.Get(k)
		switch {
		case err == nil:
			closer.Close()
			continue
		case !errors.Is(err, pebble.ErrNotFound):
			return 0, fmt.Errorf("archive: get: %w", err)
		}
		if err := b.Set(k, val[:], nil); err != nil {
			return 0, fmt.Errorf("archive: set: %w", err)
		}
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := b.Commit(a.sync); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	return added, nil
}

// Scan calls fn for each record of node in chronological order. An empty
// node scans every node.
func (a *Archive) Scan(node string, fn func(Entry) error) error {
	opts := &pebble.IterOptions{
		LowerBound: []byte(prefixRecord),
		UpperBound: []byte("r0"), // '/'+1
	}
	if node != "" {
		opts.LowerBound, opts.UpperBound = nodeBounds(node)
	}
	iter, err := a.db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("archive: iter: %w", err)
	}
	defer func() { _ = iter.Close() }()

	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func decodeEntry(key, val []byte) (Entry, error) {
	if len(key) < len(prefixRecord)+1+flash.RecordSize || len(val) != 8 {
		return Entry{}, fmt.Errorf("archive: corrupt entry %q", key)
	}
	wire := key[len(key)-flash.RecordSize:]
	rec, err := flashlog.ParseRecord(wire)
	if err != nil {
		return Entry{}, err
	}
	node := string(key[len(prefixRecord) : len(key)-flash.RecordSize-1])
	return Entry{
		Node:     node,
		Record:   rec,
		Received: time.Unix(0, int64(binary.BigEndian.Uint64(val))),
	}, nil
}

// Count returns the number of records stored for node.
func (a *Archive) Count(node string) (int, error) {
	n := 0
	err := a.Scan(node, func(Entry) error { n++; return nil })
	return n, err
}

// NoteDrain records a completed drain for node and returns the running total.
func (a *Archive) NoteDrain(node string) (uint64, error) {
	k := []byte(prefixMeta + "drains/" + node)
	var n uint64
	v, closer, err := a.db.Get(k)
	switch {
	case err == nil:
		if len(v) == 8 {
			n = binary.BigEndian.Uint64(v)
		}
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return 0, fmt.Errorf("archive: get: %w", err)
	}
	n++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	if err := a.db.Set(k, buf[:], a.sync); err != nil {
		return 0, fmt.Errorf("archive: set: %w", err)
	}
	return n, nil
}
