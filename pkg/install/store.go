/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mirkobrombin/chef/pkg/types"
)

// Store persists transactions and their log streams. Transaction ids
// are allocated by sqlite's rowid sequence, so they are monotonic and
// never reused; id 0 is left to the failure sentinel.
type Store struct {
	db *sql.DB
}

// NewStore opens (and initializes if needed) the transaction database
// in dbDir.
func NewStore(dbDir string) (s *Store, err error) {
	dbPath := filepath.Join(dbDir, "served.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return
	}

	s = &Store{db: db}

	err = s.initDb()
	if err != nil {
		return
	}

	return
}

func (s *Store) initDb() (err error) {
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS Txn (
			Id INTEGER PRIMARY KEY AUTOINCREMENT,
			Name TEXT,
			Description TEXT,
			Type INTEGER,
			State TEXT,
			Ephemeral INTEGER,
			Created DATETIME,
			Package TEXT,
			Path TEXT,
			Revision INTEGER,
			Retries INTEGER
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS TxnLog (
			TxnId INTEGER,
			Timestamp DATETIME,
			Level INTEGER,
			State TEXT,
			Message TEXT,
			FOREIGN KEY(TxnId) REFERENCES Txn(Id)
		)
	`)
	return err
}

// NewTransaction persists t and returns its allocated id, or the
// failure sentinel when the store cannot be written.
func (s *Store) NewTransaction(t types.Transaction) (id uint64, err error) {
	res, err := s.db.Exec(
		"INSERT INTO Txn (Name, Description, Type, State, Ephemeral, Created, Package, Path, Revision, Retries) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.Name, t.Description, int(t.Type), string(t.State), t.Ephemeral, t.Created, t.Package, t.Path, t.Revision, t.Retries,
	)
	if err != nil {
		err = fmt.Errorf("NewTransaction: %s", err)
		return types.TransactionFailureId, err
	}

	rowId, err := res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("NewTransaction: %s", err)
		return types.TransactionFailureId, err
	}
	return uint64(rowId), nil
}

// SetState persists a state transition.
func (s *Store) SetState(id uint64, state types.State) (err error) {
	_, err = s.db.Exec("UPDATE Txn SET State = ? WHERE Id = ?", string(state), id)
	if err != nil {
		err = fmt.Errorf("SetState: %s", err)
	}
	return
}

// SetRetries persists the download attempt counter.
func (s *Store) SetRetries(id uint64, retries int) (err error) {
	_, err = s.db.Exec("UPDATE Txn SET Retries = ? WHERE Id = ?", retries, id)
	if err != nil {
		err = fmt.Errorf("SetRetries: %s", err)
	}
	return
}

// GetTransaction fetches one transaction by id.
func (s *Store) GetTransaction(id uint64) (t types.Transaction, err error) {
	row := s.db.QueryRow(
		"SELECT Id, Name, Description, Type, State, Ephemeral, Created, Package, Path, Revision, Retries FROM Txn WHERE Id = ?", id)
	t, err = scanTransaction(row)
	if err == sql.ErrNoRows {
		err = types.NewError(types.ErrNotFound, "transaction %d not found", id)
	}
	return
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (t types.Transaction, err error) {
	var txType int
	var state string
	err = row.Scan(&t.Id, &t.Name, &t.Description, &txType, &state,
		&t.Ephemeral, &t.Created, &t.Package, &t.Path, &t.Revision, &t.Retries)
	if err != nil {
		return
	}
	t.Type = types.TransactionType(txType)
	t.State = types.State(state)
	return
}

// GetPending returns the non-terminal, non-ephemeral transactions in
// creation order; the runner replays them at startup.
func (s *Store) GetPending() (txns []types.Transaction, err error) {
	rows, err := s.db.Query(
		"SELECT Id, Name, Description, Type, State, Ephemeral, Created, Package, Path, Revision, Retries FROM Txn WHERE Ephemeral = 0 AND State NOT IN (?, ?, ?) ORDER BY Id ASC",
		string(types.StateCommitted), string(types.StateFailed), string(types.StateDone),
	)
	if err != nil {
		err = fmt.Errorf("GetPending: %s", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		t, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = fmt.Errorf("GetPending: %s", scanErr)
			return
		}
		txns = append(txns, t)
	}
	err = rows.Err()
	return
}

// PruneEphemeral drops ephemeral transactions left behind by a previous
// process; their ids stay consumed.
func (s *Store) PruneEphemeral() (err error) {
	_, err = s.db.Exec("DELETE FROM Txn WHERE Ephemeral = 1")
	if err != nil {
		err = fmt.Errorf("PruneEphemeral: %s", err)
	}
	return
}

// AppendLog persists one log entry for a transaction.
func (s *Store) AppendLog(id uint64, entry types.LogEntry) (err error) {
	_, err = s.db.Exec(
		"INSERT INTO TxnLog (TxnId, Timestamp, Level, State, Message) VALUES (?, ?, ?, ?, ?)",
		id, entry.Timestamp, int(entry.Level), string(entry.State), entry.Message,
	)
	if err != nil {
		err = fmt.Errorf("AppendLog: %s", err)
	}
	return
}

// GetLogs returns a transaction's log stream in order.
func (s *Store) GetLogs(id uint64) (entries []types.LogEntry, err error) {
	rows, err := s.db.Query(
		"SELECT Timestamp, Level, State, Message FROM TxnLog WHERE TxnId = ? ORDER BY rowid ASC", id)
	if err != nil {
		err = fmt.Errorf("GetLogs: %s", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var e types.LogEntry
		var level int
		var state string
		if err = rows.Scan(&e.Timestamp, &level, &state, &e.Message); err != nil {
			err = fmt.Errorf("GetLogs: %s", err)
			return
		}
		e.Level = types.LogLevel(level)
		e.State = types.State(state)
		entries = append(entries, e)
	}
	err = rows.Err()
	return
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
