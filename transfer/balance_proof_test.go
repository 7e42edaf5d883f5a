package transfer

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/rivulet-io/rivulet/common"
)

// keccak256 of the empty byte string. The counterpart network commits this
// value as the locksroot of a channel end with no pending locks.
const emptyLocksrootHex = "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"

func TestLocksrootOfNoLocksHashesEmptyInput(t *testing.T) {
	want, err := hex.DecodeString(emptyLocksrootHex)
	if err != nil {
		t.Fatal(err)
	}

	locksroot := ComputeLocksroot(nil)
	if !bytes.Equal(locksroot[:], want) {
		t.Fatalf("empty locksroot %x, want %s", locksroot, emptyLocksrootHex)
	}
	if locksroot == common.EmptyLocksroot {
		t.Fatal("empty lock list must not hash to the zero value")
	}
	if got := ComputeLocksroot([]*HashTimeLockState{}); got != locksroot {
		t.Fatalf("nil and empty slices disagree: %x vs %x", got, locksroot)
	}
}

func TestLocksrootChangesWithLockOrder(t *testing.T) {
	lockA := &HashTimeLockState{Amount: big.NewInt(10), Expiration: 100}
	lockA.SecretHash[0] = 0x01
	lockB := &HashTimeLockState{Amount: big.NewInt(20), Expiration: 200}
	lockB.SecretHash[0] = 0x02

	forward := ComputeLocksroot([]*HashTimeLockState{lockA, lockB})
	reverse := ComputeLocksroot([]*HashTimeLockState{lockB, lockA})
	if forward == reverse {
		t.Fatal("locksroot must depend on insertion order")
	}
}

func TestBalanceHashZeroOnlyForZeroComponents(t *testing.T) {
	var zero common.BalanceHash
	if got := HashBalanceData(big.NewInt(0), big.NewInt(0), common.EmptyLocksroot); got != zero {
		t.Fatalf("all-zero balance data hashed to %x", got)
	}
	if got := HashBalanceData(big.NewInt(0), big.NewInt(0), ComputeLocksroot(nil)); got == zero {
		t.Fatal("empty-list locksroot must produce a real balance hash")
	}
}
