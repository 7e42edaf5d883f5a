package transfer

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/rivulet-io/rivulet/common"
)

func TestStateChangeRoundTrip(t *testing.T) {
	var secretHash common.SecretHash
	secretHash[0] = 0x11
	var locksroot common.Locksroot
	locksroot[0] = 0x22

	original := &ReceiveLockedTransfer{
		MessageID: 42,
		Transfer: &LockedTransferSignedState{
			MessageID: 42,
			PaymentID: 9,
			Token:     testTokenAddress,
			BalanceProof: &BalanceProofSignedState{
				Nonce:               1,
				TransferredAmount:   big.NewInt(0),
				LockedAmount:        big.NewInt(100),
				Locksroot:           locksroot,
				TokenNetworkAddress: testTokenNetwork,
				ChannelID:           testChannelID,
				ChainID:             testChainID,
				MessageHash:         []byte{0x01, 0x02},
				Signature:           []byte{0x03, 0x04},
				Sender:              testAddress(0x01),
			},
			Lock: &HashTimeLockState{
				Amount:     big.NewInt(100),
				Expiration: 110,
				SecretHash: secretHash,
			},
			Initiator: testAddress(0x01),
			Target:    testAddress(0x02),
			Routes:    []RouteState{{Route: []common.Address{testAddress(0x01), testAddress(0x02)}}},
		},
	}

	data, err := MarshalStateChange(original)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := UnmarshalStateChange(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, restored) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", restored, original)
	}
}

func TestUnknownRecordRejected(t *testing.T) {
	if _, err := UnmarshalStateChange([]byte(`{"type":"NoSuchChange","data":{}}`)); err == nil {
		t.Fatal("unknown record type was accepted")
	}
}

// The snapshot must reproduce a node that keeps working: channels,
// transfers, queued messages and registered secrets all survive.
func TestSnapshotRoundTrip(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	node := newTestNode(t, addressA, addressB)

	secret := common.RandomSecret()
	secretHash := common.GetSecretHash(secret)
	events := dispatch(t, node, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           9,
		Amount:              big.NewInt(100),
		Secret:              secret,
		SecretHash:          secretHash,
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	if findLockedTransfer(events) == nil {
		t.Fatal("transfer was not composed")
	}

	data, err := MarshalSnapshot(node)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}

	if restored.Address != node.Address || restored.ChainID != node.ChainID ||
		restored.BlockHeight != node.BlockHeight {
		t.Fatal("node identity did not survive the snapshot")
	}

	channel := restored.GetChannelByID(testChannelID)
	if channel == nil {
		t.Fatal("channel did not survive the snapshot")
	}
	if channel.GetStatus() != ChannelStateOpen {
		t.Fatalf("restored channel status %s, want open", channel.GetStatus())
	}
	if channel.OurState.GetContractBalance().Cmp(big.NewInt(testInitialBalance)) != 0 {
		t.Fatalf("restored balance %s, want %d",
			channel.OurState.GetContractBalance(), testInitialBalance)
	}
	if channel.OurState.GetNextNonce() != 2 {
		t.Fatalf("restored next nonce %d, want 2", channel.OurState.GetNextNonce())
	}
	if len(channel.OurState.PendingLocks) != 1 ||
		channel.OurState.PendingLocks[0].SecretHash != secretHash {
		t.Fatal("pending lock did not survive the snapshot")
	}

	transferState := restored.GetTransfer(TransferKey{
		SecretHash: secretHash,
		Direction:  DirectionSent,
	})
	if transferState == nil {
		t.Fatal("transfer record did not survive the snapshot")
	}
	if transferState.Status() != TransferStatusPending {
		t.Fatalf("restored transfer status %s, want pending", transferState.Status())
	}

	if restored.SecretRegistry[secretHash] == nil {
		t.Fatal("registered secret did not survive the snapshot")
	}

	// the queued locked transfer must come back as its concrete type so the
	// retry queues can be re-armed from it
	queued := restored.QueueIdsToQueues[QueueIdentifier{
		Recipient: addressB,
		ChannelID: testChannelID,
	}]
	foundQueued := false
	for _, event := range queued {
		if send, ok := event.(*SendLockedTransfer); ok &&
			send.Transfer.Lock.SecretHash == secretHash {
			foundQueued = true
		}
	}
	if !foundQueued {
		t.Fatal("queued locked transfer did not survive the snapshot")
	}
}
