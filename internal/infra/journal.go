package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/pavkata12/client8/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	journalDBName = "journal.db"
)

// EncryptedJournal implements domain.SnapshotJournal using a SQLCipher
// encrypted SQLite database. It survives crashes so a restarted agent can
// still restore the machine's original policy values.
type EncryptedJournal struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedJournal opens (or creates) an encrypted journal database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedJournal(dataDir string, key []byte) (*EncryptedJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Ping applies the key; a wrong key fails here or at table creation.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	j := &EncryptedJournal{db: db, dbPath: dbPath}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

func (j *EncryptedJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy_snapshots (
		change_key TEXT PRIMARY KEY,
		had_prior INTEGER NOT NULL,
		prior INTEGER NOT NULL,
		captured_at INTEGER NOT NULL
	);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Save records the snapshot for a change key, replacing any older one.
func (j *EncryptedJournal) Save(key string, snap domain.PolicySnapshot) error {
	hadPrior := 0
	if snap.HadPrior {
		hadPrior = 1
	}
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO policy_snapshots (change_key, had_prior, prior, captured_at)
		VALUES (?, ?, ?, ?)`,
		key, hadPrior, int64(snap.Prior), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("journal save %s: %w", key, err)
	}
	return nil
}

// Delete forgets the snapshot for a change key.
func (j *EncryptedJournal) Delete(key string) error {
	if _, err := j.db.Exec(`DELETE FROM policy_snapshots WHERE change_key = ?`, key); err != nil {
		return fmt.Errorf("journal delete %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every recorded snapshot.
func (j *EncryptedJournal) LoadAll() (map[string]domain.PolicySnapshot, error) {
	rows, err := j.db.Query(`SELECT change_key, had_prior, prior FROM policy_snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := make(map[string]domain.PolicySnapshot)
	for rows.Next() {
		var key string
		var hadPrior int
		var prior int64
		if err := rows.Scan(&key, &hadPrior, &prior); err != nil {
			return nil, err
		}
		snaps[key] = domain.PolicySnapshot{HadPrior: hadPrior != 0, Prior: uint32(prior)}
	}
	return snaps, rows.Err()
}

// Path returns the database file path.
func (j *EncryptedJournal) Path() string {
	return j.dbPath
}

// Close releases the database connection.
func (j *EncryptedJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// OpenJournal loads or creates the journal key in dataDir and opens the journal.
func OpenJournal(dataDir string) (*EncryptedJournal, error) {
	key, err := loadJournalKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("journal key: %w", err)
	}
	return NewEncryptedJournal(dataDir, key)
}

// Ensure EncryptedJournal implements domain.SnapshotJournal.
var _ domain.SnapshotJournal = (*EncryptedJournal)(nil)
