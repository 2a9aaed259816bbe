// Package durability provides a reference adapter over the core's
// exposed commit-tid callback and epoch-advancement hook. It is
// explicitly not a WAL, checkpointer, or recovery subsystem — those
// remain external collaborators per the core's scope — but shows how
// one would observe committed state and persist the two small epoch
// files the reference runtime's recovery protocol relies on.
package durability

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EpochGuard (Δ) is the recovery replay guard: recovery may only replay
// committed transactions whose epoch is at most pepoch - EpochGuard,
// giving in-flight epochs time to fully durably log before being
// trusted. The reference runtime's example value is 13.
const EpochGuard = 13

// WriteEpochFile writes an 8-byte little-endian epoch value to path —
// the on-disk format of both the cepoch and pepoch files.
func WriteEpochFile(path string, epoch uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], epoch)
	return os.WriteFile(path, buf[:], 0o644)
}

// ReadEpochFile reads an 8-byte little-endian epoch value.
func ReadEpochFile(path string) (uint64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("durability: %s is not an 8-byte epoch file (got %d bytes)", path, len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// RecoverableEpoch applies the guard delta to the latest durably-logged
// epoch, returning the highest epoch recovery may safely replay.
func RecoverableEpoch(pepoch uint64) uint64 {
	if pepoch < EpochGuard {
		return 0
	}
	return pepoch - EpochGuard
}

// CheckpointStore is a minimal reference durability adapter: it records
// (commit_tid, epoch) pairs through database/sql against a pure-Go
// sqlite database as commits and epoch advances happen, giving a
// concrete client of the core's hooks without implementing real
// recovery logic.
type CheckpointStore struct {
	db    *sql.DB
	runID uuid.UUID
}

// OpenCheckpointStore opens (creating if needed) a sqlite-backed
// checkpoint log at path.
func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
		run_id      TEXT    NOT NULL,
		commit_tid  INTEGER NOT NULL,
		epoch       INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &CheckpointStore{db: db, runID: uuid.New()}, nil
}

// RunID identifies this process's checkpoint run, so records from
// successive demo runs against the same file can be told apart.
func (c *CheckpointStore) RunID() uuid.UUID { return c.runID }

// Record persists one (commit_tid, epoch) observation.
func (c *CheckpointStore) Record(commitTID, epoch uint64, recordedAtUnix int64) error {
	_, err := c.db.Exec(
		`INSERT INTO checkpoints (run_id, commit_tid, epoch, recorded_at) VALUES (?, ?, ?, ?)`,
		c.runID.String(), commitTID, epoch, recordedAtUnix,
	)
	return err
}

// LatestEpoch returns the highest epoch recorded so far, 0 if none.
func (c *CheckpointStore) LatestEpoch() (uint64, error) {
	var epoch uint64
	err := c.db.QueryRow(`SELECT COALESCE(MAX(epoch), 0) FROM checkpoints`).Scan(&epoch)
	return epoch, err
}

// Close releases the underlying database handle.
func (c *CheckpointStore) Close() error { return c.db.Close() }
