package storage

import (
	"database/sql"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/transfer"
)

const ChannelDbVersion int = 1

const dbCreateSettings string = "CREATE TABLE IF NOT EXISTS settings (name VARCHAR[24] NOT NULL PRIMARY KEY, value TEXT);"
const dbCreateStateChanges string = "CREATE TABLE IF NOT EXISTS state_changes (identifier INTEGER PRIMARY KEY AUTOINCREMENT, data JSON);"
const dbCreateSnapshot string = `CREATE TABLE IF NOT EXISTS state_snapshot (identifier INTEGER PRIMARY KEY, statechange_id INTEGER,
data JSON, FOREIGN KEY(statechange_id) REFERENCES state_changes(identifier));`
const dbCreateStateEvents string = `CREATE TABLE IF NOT EXISTS state_events (identifier INTEGER PRIMARY KEY AUTOINCREMENT,
source_statechange_id INTEGER NOT NULL, log_time TEXT, data JSON, FOREIGN KEY(source_statechange_id) REFERENCES state_changes(identifier));`

type StateChangeRecord struct {
	StateChangeID int
	Data          transfer.StateChange
}

type EventRecord struct {
	EventID       int
	StateChangeID int
	LogTime       string
	Data          transfer.Event
}

// SQLiteStorage is the durable log behind the write-ahead log. All writes are
// serialized through writeLock, sqlite itself runs in WAL journal mode.
type SQLiteStorage struct {
	conn      *sql.DB
	writeLock sync.Mutex
}

func NewSQLiteStorage(databasePath string) (*SQLiteStorage, error) {
	conn, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}

	if _, err = conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		return nil, errors.Wrap(err, "set synchronous pragma")
	}
	if _, err = conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, errors.Wrap(err, "set journal mode")
	}

	self := &SQLiteStorage{conn: conn}
	for _, script := range []string{dbCreateSettings, dbCreateStateChanges, dbCreateSnapshot, dbCreateStateEvents} {
		if _, err = conn.Exec(script); err != nil {
			return nil, errors.Wrap(err, "create tables")
		}
	}

	if _, err = conn.Exec("INSERT OR REPLACE INTO settings(name, value) VALUES(?, ?)",
		"version", ChannelDbVersion); err != nil {
		return nil, errors.Wrap(err, "record database version")
	}

	return self, nil
}

func (self *SQLiteStorage) GetVersion() int {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	var versionStr string
	row := self.conn.QueryRow("SELECT value FROM settings WHERE name=?", "version")
	if err := row.Scan(&versionStr); err != nil {
		return ChannelDbVersion
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return ChannelDbVersion
	}
	return version
}

func (self *SQLiteStorage) CountStateChanges() int {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	var count int
	row := self.conn.QueryRow("SELECT COUNT(*) FROM state_changes")
	if err := row.Scan(&count); err != nil {
		return 0
	}
	return count
}

func (self *SQLiteStorage) writeStateChange(stateChange transfer.StateChange) (int, error) {
	data, err := transfer.MarshalStateChange(stateChange)
	if err != nil {
		return 0, errors.Wrap(err, "serialize state change")
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	res, err := self.conn.Exec("INSERT INTO state_changes(data) VALUES(?)", data)
	if err != nil {
		return 0, errors.Wrap(err, "insert state change")
	}
	lastRowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(lastRowID), nil
}

func (self *SQLiteStorage) writeStateSnapshot(stateChangeID int, snapshot *transfer.ChainState) error {
	data, err := transfer.MarshalSnapshot(snapshot)
	if err != nil {
		return errors.Wrap(err, "serialize snapshot")
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	_, err = self.conn.Exec("INSERT INTO state_snapshot(statechange_id, data) VALUES(?, ?)",
		stateChangeID, data)
	if err != nil {
		return errors.Wrap(err, "insert snapshot")
	}
	return nil
}

func (self *SQLiteStorage) writeEvents(stateChangeID int, events []transfer.Event, logTime string) error {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	stmt, err := self.conn.Prepare("INSERT INTO state_events(source_statechange_id, log_time, data) VALUES(?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare event insert")
	}
	defer stmt.Close()

	for _, event := range events {
		data, err := transfer.MarshalEvent(event)
		if err != nil {
			return errors.Wrap(err, "serialize event")
		}
		if _, err = stmt.Exec(stateChangeID, logTime, data); err != nil {
			return errors.Wrap(err, "insert event")
		}
	}
	return nil
}

// getLatestSnapshot returns the newest snapshot and the identifier of the
// last state change it covers. A nil state with no error means no snapshot
// has been taken yet.
func (self *SQLiteStorage) getLatestSnapshot() (int, *transfer.ChainState, error) {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	var stateChangeID int
	var data []byte
	row := self.conn.QueryRow(
		"SELECT statechange_id, data FROM state_snapshot ORDER BY identifier DESC LIMIT 1")
	if err := row.Scan(&stateChangeID, &data); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, nil
		}
		return 0, nil, errors.Wrap(err, "query snapshot")
	}

	chainState, err := transfer.UnmarshalSnapshot(data)
	if err != nil {
		return 0, nil, errors.Wrap(err, "deserialize snapshot")
	}
	return stateChangeID, chainState, nil
}

// getStateChangesAfter returns the state changes with identifier greater than
// fromIdentifier, in insertion order.
func (self *SQLiteStorage) getStateChangesAfter(fromIdentifier int) ([]*StateChangeRecord, error) {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	rows, err := self.conn.Query(
		"SELECT identifier, data FROM state_changes WHERE identifier > ? ORDER BY identifier ASC",
		fromIdentifier)
	if err != nil {
		return nil, errors.Wrap(err, "query state changes")
	}
	defer rows.Close()

	var result []*StateChangeRecord
	for rows.Next() {
		var identifier int
		var data []byte
		if err = rows.Scan(&identifier, &data); err != nil {
			return nil, err
		}
		stateChange, err := transfer.UnmarshalStateChange(data)
		if err != nil {
			return nil, errors.Wrapf(err, "deserialize state change %d", identifier)
		}
		result = append(result, &StateChangeRecord{StateChangeID: identifier, Data: stateChange})
	}
	return result, rows.Err()
}

// GetEvents pages through the recorded events in insertion order.
func (self *SQLiteStorage) GetEvents(limit int, offset int) ([]*EventRecord, error) {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	rows, err := self.conn.Query(
		"SELECT identifier, source_statechange_id, log_time, data FROM state_events ORDER BY identifier ASC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var result []*EventRecord
	for rows.Next() {
		record := &EventRecord{}
		var data []byte
		if err = rows.Scan(&record.EventID, &record.StateChangeID, &record.LogTime, &data); err != nil {
			return nil, err
		}
		record.Data, err = transfer.UnmarshalEvent(data)
		if err != nil {
			return nil, errors.Wrapf(err, "deserialize event %d", record.EventID)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func (self *SQLiteStorage) Close() error {
	return self.conn.Close()
}
