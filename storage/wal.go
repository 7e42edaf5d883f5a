package storage

import (
	"reflect"
	"sync"
	"time"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/transfer"
)

// WriteAheadLog records every state change before it is applied, so the
// current state can always be rebuilt by replaying the log on top of the
// latest snapshot.
type WriteAheadLog struct {
	StateManager  *transfer.StateManager
	StateChangeID int
	Storage       *SQLiteStorage
	dbLock        sync.Mutex
}

// RestoreToLatest rebuilds a write-ahead log from storage, replaying every
// state change recorded after the newest snapshot.
func RestoreToLatest(transitionFunction transfer.StateTransitionCallback,
	storage *SQLiteStorage) (*WriteAheadLog, error) {

	fromStateChangeID, snapshot, err := storage.getLatestSnapshot()
	if err != nil {
		return nil, err
	}

	var currentState transfer.State
	if snapshot != nil {
		currentState = snapshot
	} else {
		log.Info("no snapshot found, replaying all state changes")
	}

	unapplied, err := storage.getStateChangesAfter(fromStateChangeID)
	if err != nil {
		return nil, err
	}

	wal := &WriteAheadLog{
		StateManager:  transfer.NewStateManager(transitionFunction, currentState),
		StateChangeID: fromStateChangeID,
		Storage:       storage,
	}

	for _, record := range unapplied {
		wal.StateManager.Dispatch(record.Data)
		wal.StateChangeID = record.StateChangeID
	}

	return wal, nil
}

// LogAndDispatch persists the state change, applies it, then records the
// emitted events. The state change must be durable before the transition
// runs, otherwise a crash could lose an applied input.
func (self *WriteAheadLog) LogAndDispatch(stateChange transfer.StateChange) []transfer.Event {
	self.dbLock.Lock()
	defer self.dbLock.Unlock()

	stateChangeID, err := self.Storage.writeStateChange(stateChange)
	if err != nil {
		log.Errorf("write state change %s: %s", reflect.TypeOf(stateChange).String(), err)
		return nil
	}
	self.StateChangeID = stateChangeID

	events := self.StateManager.Dispatch(stateChange)

	logTime := time.Now().UTC().Format(time.RFC3339Nano)
	if err = self.Storage.writeEvents(stateChangeID, events, logTime); err != nil {
		log.Errorf("write events for state change %d: %s", stateChangeID, err)
	}

	return events
}

// Snapshot persists the current state keyed by the last applied state change.
func (self *WriteAheadLog) Snapshot() error {
	self.dbLock.Lock()
	defer self.dbLock.Unlock()

	if self.StateChangeID == 0 {
		return nil
	}

	chainState, ok := self.StateManager.GetCurrentState().(*transfer.ChainState)
	if !ok || chainState == nil {
		return nil
	}
	return self.Storage.writeStateSnapshot(self.StateChangeID, chainState)
}

func (self *WriteAheadLog) Version() int {
	return self.Storage.GetVersion()
}
