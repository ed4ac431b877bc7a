package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelStatePrefix   = "s/"
	levelJournalPrefix = "j/"
	levelHeadKey       = "m/head"
)

// JournalEntry is one committed Tx in the LevelDB hash chain.
type JournalEntry struct {
	Height      uint64    `json:"height"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
	Puts        []KV      `json:"puts"`
	CommittedAt time.Time `json:"committed_at"`
}

type journalHead struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// LevelDBLog is a single-node Log on goleveldb. Every committed Tx is also
// recorded as a hash-chained journal entry so that tampering with the files
// on disk can be detected with VerifyJournal.
type LevelDBLog struct {
	db  *leveldb.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenLevelDB opens or creates a LevelDB-backed Log at path.
func OpenLevelDB(path string) (*LevelDBLog, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBLog{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (l *LevelDBLog) Close() error {
	return l.db.Close()
}

func (l *LevelDBLog) Get(_ context.Context, key string) ([]byte, error) {
	v, err := l.db.Get([]byte(levelStatePrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return v, nil
}

func (l *LevelDBLog) Scan(_ context.Context, prefix string) ([]KV, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(levelStatePrefix+prefix)), nil)
	defer iter.Release()

	var out []KV
	for iter.Next() {
		out = append(out, KV{
			Key:   string(iter.Key()[len(levelStatePrefix):]),
			Value: clone(iter.Value()),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb scan %s: %w", prefix, err)
	}
	return out, nil
}

func (l *LevelDBLog) Append(_ context.Context, tx *Tx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range tx.Expect {
		current, err := l.db.Get([]byte(levelStatePrefix+c.Key), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("leveldb check %s: %w", c.Key, err)
		}
		if !c.Holds(current) {
			return ErrConflict
		}
	}
	if tx.Empty() {
		return nil
	}

	head, err := l.head()
	if err != nil {
		return err
	}
	entry := JournalEntry{
		Height:      head.Height + 1,
		PrevHash:    head.Hash,
		Puts:        tx.Puts,
		CommittedAt: l.now().UTC(),
	}
	entry.Hash, err = hashEntry(entry)
	if err != nil {
		return err
	}
	encodedEntry, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	encodedHead, err := json.Marshal(journalHead{Height: entry.Height, Hash: entry.Hash})
	if err != nil {
		return fmt.Errorf("encode journal head: %w", err)
	}

	batch := new(leveldb.Batch)
	for _, p := range tx.Puts {
		batch.Put([]byte(levelStatePrefix+p.Key), p.Value)
	}
	batch.Put([]byte(journalKey(entry.Height)), encodedEntry)
	batch.Put([]byte(levelHeadKey), encodedHead)
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb commit: %w", err)
	}
	return nil
}

// Journal returns every journal entry in commit order.
func (l *LevelDBLog) Journal() ([]JournalEntry, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(levelJournalPrefix)), nil)
	defer iter.Release()

	var out []JournalEntry
	for iter.Next() {
		var e JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb journal: %w", err)
	}
	return out, nil
}

// VerifyJournal walks the hash chain and returns an error naming the first
// entry whose hash or link does not match.
func (l *LevelDBLog) VerifyJournal() error {
	entries, err := l.Journal()
	if err != nil {
		return err
	}
	prev := ""
	for i, e := range entries {
		if e.Height != uint64(i+1) {
			return fmt.Errorf("journal entry %d: unexpected height %d", i+1, e.Height)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("journal entry %d: broken link", e.Height)
		}
		want, err := hashEntry(e)
		if err != nil {
			return err
		}
		if want != e.Hash {
			return fmt.Errorf("journal entry %d: hash mismatch", e.Height)
		}
		prev = e.Hash
	}
	return nil
}

func (l *LevelDBLog) head() (journalHead, error) {
	var h journalHead
	raw, err := l.db.Get([]byte(levelHeadKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return h, nil
	}
	if err != nil {
		return h, fmt.Errorf("leveldb head: %w", err)
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, fmt.Errorf("decode journal head: %w", err)
	}
	return h, nil
}

func journalKey(height uint64) string {
	return fmt.Sprintf("%s%020d", levelJournalPrefix, height)
}

func hashEntry(e JournalEntry) (string, error) {
	body, err := json.Marshal(struct {
		Height      uint64    `json:"height"`
		PrevHash    string    `json:"prev_hash"`
		Puts        []KV      `json:"puts"`
		CommittedAt time.Time `json:"committed_at"`
	}{e.Height, e.PrevHash, e.Puts, e.CommittedAt})
	if err != nil {
		return "", fmt.Errorf("encode journal body: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
