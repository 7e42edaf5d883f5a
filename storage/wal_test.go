package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/transfer"
)

func openTestStorage(t *testing.T, name string) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func testInitAndChannel(t *testing.T, wal *WriteAheadLog) {
	t.Helper()
	address := common.Address{0x01}
	partner := common.Address{0x02}

	wal.LogAndDispatch(&transfer.ActionInitNode{
		Address:     address,
		ChainID:     1,
		BlockHeight: 10,
	})
	wal.LogAndDispatch(&transfer.ContractReceiveChannelNew{
		ChannelID:           7,
		TokenAddress:        common.TokenAddress{0xAA},
		TokenNetworkAddress: common.TokenNetworkAddress{0xBB},
		Participant1:        address,
		Participant2:        partner,
		SettleTimeout:       500,
		BlockHeight:         10,
	})
	wal.LogAndDispatch(&transfer.ContractReceiveChannelDeposit{
		ChannelID:    7,
		Participant:  address,
		TotalDeposit: big.NewInt(1000),
		BlockHeight:  10,
	})
}

func TestDatabaseVersionRecorded(t *testing.T) {
	storage := openTestStorage(t, "version.db")
	version := storage.GetVersion()
	if version != ChannelDbVersion {
		t.Fatalf("version %d, want %d", version, ChannelDbVersion)
	}
}

func TestRestoreFromEmptyDatabase(t *testing.T) {
	storage := openTestStorage(t, "empty.db")
	wal, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	if wal.StateManager.GetCurrentState() != nil {
		t.Fatal("fresh database restored a state")
	}
	if wal.StateChangeID != 0 {
		t.Fatalf("fresh database restored state change id %d", wal.StateChangeID)
	}
}

func TestRestoreReplaysStateChanges(t *testing.T) {
	storage := openTestStorage(t, "replay.db")

	wal, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	testInitAndChannel(t, wal)
	loggedID := wal.StateChangeID

	restored, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	if restored.StateChangeID != loggedID {
		t.Fatalf("restored up to state change %d, want %d", restored.StateChangeID, loggedID)
	}
	chainState, ok := restored.StateManager.GetCurrentState().(*transfer.ChainState)
	if !ok {
		t.Fatalf("restored state is %T", restored.StateManager.GetCurrentState())
	}
	channel := chainState.GetChannelByID(7)
	if channel == nil {
		t.Fatal("channel was not rebuilt from the log")
	}
	if channel.OurState.GetContractBalance().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("restored balance %s, want 1000", channel.OurState.GetContractBalance())
	}
}

func TestRestoreFromSnapshotSkipsReplayedChanges(t *testing.T) {
	storage := openTestStorage(t, "snapshot.db")

	wal, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	testInitAndChannel(t, wal)
	if err := wal.Snapshot(); err != nil {
		t.Fatal(err)
	}

	// one more change after the snapshot, replayed on top of it
	wal.LogAndDispatch(&transfer.Block{BlockHeight: 42})

	restored, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	chainState, ok := restored.StateManager.GetCurrentState().(*transfer.ChainState)
	if !ok {
		t.Fatalf("restored state is %T", restored.StateManager.GetCurrentState())
	}
	if chainState.BlockHeight != 42 {
		t.Fatalf("restored block height %d, want 42", chainState.BlockHeight)
	}
	if chainState.GetChannelByID(7) == nil {
		t.Fatal("channel was lost across snapshot and replay")
	}
}

func TestEventsPersisted(t *testing.T) {
	storage := openTestStorage(t, "events.db")

	wal, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	testInitAndChannel(t, wal)

	// the confirmed channel and deposit produce status events
	records, err := storage.GetEvents(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("no events persisted")
	}
	foundOpened := false
	for _, record := range records {
		if _, ok := record.Data.(*transfer.EventChannelOpened); ok {
			foundOpened = true
		}
	}
	if !foundOpened {
		t.Fatal("channel opened event was not persisted")
	}
}

func TestCountStateChangesGrowsWithLog(t *testing.T) {
	storage := openTestStorage(t, "count.db")
	if got := storage.CountStateChanges(); got != 0 {
		t.Fatalf("fresh database counts %d state changes", got)
	}

	wal, err := RestoreToLatest(transfer.StateTransition, storage)
	if err != nil {
		t.Fatal(err)
	}
	testInitAndChannel(t, wal)

	counted := storage.CountStateChanges()
	if counted != wal.StateChangeID {
		t.Fatalf("counted %d state changes, log is at %d", counted, wal.StateChangeID)
	}
	if counted == 0 {
		t.Fatal("logged state changes were not counted")
	}
}
