package fuzz

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/xgo-dev/spillfuzz"
	"github.com/xgo-dev/spillfuzz/corpus"
	"github.com/xgo-dev/spillfuzz/runner"
)

var journalBucket = []byte("iterations")

// IterationRecord is the journal entry for one iteration, whatever its
// outcome. The journal is append-only; a campaign can be reconstructed from
// it without the findings directory.
type IterationRecord struct {
	Seq     uint64        `json:"seq"`
	Time    time.Time     `json:"time"`
	Program string        `json:"program"`
	Config  corpus.Config `json:"config"`
	Outcome string        `json:"outcome"`
	Detail  string        `json:"detail,omitempty"`
	Finding string        `json:"finding,omitempty"`
}

// Finding bundles everything needed to reproduce one reported issue.
// StaticIssues come from the budget-constrained build, ReferenceIssues from
// the unconstrained one; both dumps are checked independently.
type Finding struct {
	ID              string                 `json:"id"`
	Program         string                 `json:"program"`
	Config          corpus.Config          `json:"config"`
	StaticIssues    []spillfuzz.SpillIssue `json:"static_issues,omitempty"`
	ReferenceIssues []spillfuzz.SpillIssue `json:"reference_issues,omitempty"`
	Verdict         *runner.Verdict        `json:"verdict,omitempty"`
	Detail          string                 `json:"detail,omitempty"`
}

// Reporter persists findings under out/findings/<id>/ and journals every
// iteration into out/journal.db.
type Reporter struct {
	dir string
	db  *bolt.DB
	enc *zstd.Encoder
}

// NewReporter creates (or reopens) the output directory and journal.
func NewReporter(dir string) (*Reporter, error) {
	if err := os.MkdirAll(filepath.Join(dir, "findings"), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, "journal.db"), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Reporter{dir: dir, db: db, enc: enc}, nil
}

// Close flushes and releases the journal.
func (r *Reporter) Close() error {
	r.enc.Close()
	return r.db.Close()
}

// Journal appends one iteration record.
func (r *Reporter) Journal(rec IterationRecord) error {
	rec.Time = time.Now().UTC()
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key[:], val)
	})
}

// Records replays the journal in order.
func (r *Reporter) Records() ([]IterationRecord, error) {
	var recs []IterationRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(journalBucket).ForEach(func(_, v []byte) error {
			var rec IterationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// FindingID derives a stable identifier from the program text and the
// configuration, so re-discovering the same issue lands in the same
// directory instead of duplicating it.
func FindingID(program string, cfg corpus.Config) string {
	h := blake3.New()
	h.Write([]byte(program))
	fmt.Fprintf(h, "|%d|%d|%s", cfg.VGPR, cfg.SGPR, cfg.Pass)
	sum := h.Sum(nil)
	return base58.Encode(sum[:8])
}

// Report writes the finding directory: the mutated program, the
// configuration, the finding summary, and the compressed machine dumps.
func (r *Reporter) Report(f Finding, program string, dumps map[string][]byte) (string, error) {
	dir := filepath.Join(r.dir, "findings", f.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "program.ll"), []byte(program), 0o644); err != nil {
		return "", err
	}
	cfgJSON, err := json.MarshalIndent(f.Config, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), cfgJSON, 0o644); err != nil {
		return "", err
	}
	sumJSON, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "finding.json"), sumJSON, 0o644); err != nil {
		return "", err
	}
	for name, dump := range dumps {
		compressed := r.enc.EncodeAll(dump, nil)
		if err := os.WriteFile(filepath.Join(dir, name+".zst"), compressed, 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ReadDump decompresses a stored machine dump artifact.
func ReadDump(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(raw, nil)
}
