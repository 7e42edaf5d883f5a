package transfer

import (
	"math/big"
	"testing"

	"github.com/rivulet-io/rivulet/common"
)

func testAddress(fill byte) common.Address {
	var address common.Address
	for i := range address {
		address[i] = fill
	}
	return address
}

var (
	testTokenAddress   = common.TokenAddress(testAddress(0xAA))
	testTokenNetwork   = common.TokenNetworkAddress(testAddress(0xBB))
	testChainID        = common.ChainID(1)
	testChannelID      = common.ChannelID(7)
	testSettleTimeout  = common.BlockTimeout(500)
	testInitialBalance = int64(1000)
)

// newTestNode builds a node with one open, funded channel towards the
// partner, driven entirely through the public transition.
func newTestNode(t *testing.T, address common.Address, partner common.Address) *ChainState {
	t.Helper()

	result := StateTransition(nil, &ActionInitNode{
		Address:     address,
		ChainID:     testChainID,
		BlockHeight: 10,
	})
	chainState, ok := result.NewState.(*ChainState)
	if !ok {
		t.Fatalf("init produced %T", result.NewState)
	}

	dispatch(t, chainState, &ContractReceiveChannelNew{
		ChannelID:           testChannelID,
		TokenAddress:        testTokenAddress,
		TokenNetworkAddress: testTokenNetwork,
		Participant1:        address,
		Participant2:        partner,
		SettleTimeout:       testSettleTimeout,
		BlockHeight:         10,
	})
	for _, participant := range []common.Address{address, partner} {
		dispatch(t, chainState, &ContractReceiveChannelDeposit{
			ChannelID:    testChannelID,
			Participant:  participant,
			TotalDeposit: big.NewInt(testInitialBalance),
			BlockHeight:  10,
		})
	}

	channel := chainState.GetChannelByID(testChannelID)
	if channel == nil {
		t.Fatal("channel was not created")
	}
	if channel.GetStatus() != ChannelStateOpen {
		t.Fatalf("channel status %s, want open", channel.GetStatus())
	}
	return chainState
}

func dispatch(t *testing.T, chainState *ChainState, stateChange StateChange) []Event {
	t.Helper()
	result := StateTransition(chainState, stateChange)
	if result.NewState != State(chainState) {
		t.Fatalf("transition replaced the chain state")
	}
	return result.Events
}

// eventOfType pulls the single event of the wanted type out of a batch.
func findLockedTransfer(events []Event) *SendLockedTransfer {
	for _, event := range events {
		if send, ok := event.(*SendLockedTransfer); ok {
			return send
		}
	}
	return nil
}

func checkEndConsistency(t *testing.T, endState *ChannelEndState) {
	t.Helper()
	sum := new(big.Int)
	for _, lock := range endState.PendingLocks {
		sum.Add(sum, lock.Amount)
	}
	if endState.GetLockedAmount().Cmp(sum) != 0 {
		t.Fatalf("locked amount %s does not match pending locks total %s",
			endState.GetLockedAmount(), sum)
	}
	if endState.BalanceProof != nil &&
		ComputeLocksroot(endState.PendingLocks) != endState.BalanceProof.Locksroot {
		t.Fatal("balance proof locksroot does not cover the pending locks")
	}
}

func TestTransferHappyPath(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)
	nodeB := newTestNode(t, addressB, addressA)

	secret := common.RandomSecret()
	secretHash := common.GetSecretHash(secret)
	amount := big.NewInt(100)

	events := dispatch(t, nodeA, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           9,
		Amount:              amount,
		Secret:              secret,
		SecretHash:          secretHash,
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	sendTransfer := findLockedTransfer(events)
	if sendTransfer == nil {
		t.Fatalf("no SendLockedTransfer in %v", events)
	}
	proof := sendTransfer.Transfer.BalanceProof
	if proof.Nonce != 1 {
		t.Fatalf("first balance proof nonce %d, want 1", proof.Nonce)
	}
	if proof.LockedAmount.Cmp(amount) != 0 || proof.TransferredAmount.Sign() != 0 {
		t.Fatalf("locked transfer moved value: locked %s transferred %s",
			proof.LockedAmount, proof.TransferredAmount)
	}
	checkEndConsistency(t, nodeA.GetChannelByID(testChannelID).OurState)

	// target accepts and asks for the secret
	events = dispatch(t, nodeB, &ReceiveLockedTransfer{
		MessageID: sendTransfer.MessageID,
		Transfer:  sendTransfer.Transfer,
	})
	var secretRequest *SendSecretRequest
	var processed *SendProcessed
	for _, event := range events {
		switch send := event.(type) {
		case *SendSecretRequest:
			secretRequest = send
		case *SendProcessed:
			processed = send
		}
	}
	if processed == nil || secretRequest == nil {
		t.Fatalf("target emitted %v, want Processed and SecretRequest", events)
	}
	checkEndConsistency(t, nodeB.GetChannelByID(testChannelID).PartnerState)

	// initiator reveals
	events = dispatch(t, nodeA, &ReceiveSecretRequest{
		Sender:     addressB,
		MessageID:  secretRequest.MessageID,
		PaymentID:  secretRequest.PaymentID,
		SecretHash: secretRequest.SecretHash,
		Amount:     secretRequest.Amount,
		Expiration: secretRequest.Expiration,
	})
	if len(events) != 1 {
		t.Fatalf("secret request produced %v, want one reveal", events)
	}
	reveal, ok := events[0].(*SendSecretReveal)
	if !ok {
		t.Fatalf("secret request produced %T, want SendSecretReveal", events[0])
	}

	// target learns the secret and echoes it back
	events = dispatch(t, nodeB, &ReceiveSecretReveal{
		Sender:    addressA,
		MessageID: reveal.MessageID,
		Secret:    reveal.Secret,
	})
	if len(events) != 1 {
		t.Fatalf("target reveal produced %v, want one echo", events)
	}
	echo := events[0].(*SendSecretReveal)

	// initiator unlocks
	events = dispatch(t, nodeA, &ReceiveSecretReveal{
		Sender:    addressB,
		MessageID: echo.MessageID,
		Secret:    echo.Secret,
	})
	var unlock *SendBalanceProof
	var success *EventPaymentSentSuccess
	for _, event := range events {
		switch typed := event.(type) {
		case *SendBalanceProof:
			unlock = typed
		case *EventPaymentSentSuccess:
			success = typed
		}
	}
	if unlock == nil || success == nil {
		t.Fatalf("initiator reveal produced %v, want Unlock and PaymentSentSuccess", events)
	}
	if unlock.BalanceProof.Nonce != 2 {
		t.Fatalf("unlock nonce %d, want 2", unlock.BalanceProof.Nonce)
	}
	ourState := nodeA.GetChannelByID(testChannelID).OurState
	if ourState.GetTransferredAmount().Cmp(amount) != 0 {
		t.Fatalf("initiator transferred %s, want %s", ourState.GetTransferredAmount(), amount)
	}
	if len(ourState.PendingLocks) != 0 {
		t.Fatal("initiator still holds a pending lock after unlock")
	}
	checkEndConsistency(t, ourState)

	// target applies the unlock
	events = dispatch(t, nodeB, &ReceiveUnlock{
		MessageID:    unlock.MessageID,
		PaymentID:    unlock.PaymentID,
		Secret:       unlock.Secret,
		BalanceProof: unlock.BalanceProof,
	})
	var received *EventPaymentReceivedSuccess
	for _, event := range events {
		if typed, ok := event.(*EventPaymentReceivedSuccess); ok {
			received = typed
		}
	}
	if received == nil {
		t.Fatalf("unlock produced %v, want PaymentReceivedSuccess", events)
	}
	if received.Amount.Cmp(amount) != 0 {
		t.Fatalf("received amount %s, want %s", received.Amount, amount)
	}
	partnerState := nodeB.GetChannelByID(testChannelID).PartnerState
	if partnerState.GetTransferredAmount().Cmp(amount) != 0 {
		t.Fatalf("target sees transferred %s, want %s", partnerState.GetTransferredAmount(), amount)
	}
	if len(partnerState.PendingLocks) != 0 {
		t.Fatal("target still holds the partner lock after unlock")
	}
	checkEndConsistency(t, partnerState)
}

func TestNonceNeverDecreases(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)
	channel := nodeA.GetChannelByID(testChannelID)

	lastNonce := common.Nonce(0)
	for i := 0; i < 3; i++ {
		secret := common.RandomSecret()
		events := dispatch(t, nodeA, &ActionTransferInit{
			TokenNetworkAddress: testTokenNetwork,
			PartnerAddress:      addressB,
			Target:              addressB,
			PaymentID:           common.PaymentID(100 + i),
			Amount:              big.NewInt(10),
			Secret:              secret,
			SecretHash:          common.GetSecretHash(secret),
			Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
		})
		sendTransfer := findLockedTransfer(events)
		if sendTransfer == nil {
			t.Fatalf("transfer %d was not composed", i)
		}
		nonce := sendTransfer.Transfer.BalanceProof.Nonce
		if nonce <= lastNonce {
			t.Fatalf("nonce went from %d to %d", lastNonce, nonce)
		}
		lastNonce = nonce
		checkEndConsistency(t, channel.OurState)
	}
	if channel.OurState.GetLockedAmount().Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("locked amount %s, want 30", channel.OurState.GetLockedAmount())
	}
}

func TestTransferRejectedBeyondCapacity(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)

	secret := common.RandomSecret()
	events := dispatch(t, nodeA, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           1,
		Amount:              big.NewInt(testInitialBalance + 1),
		Secret:              secret,
		SecretHash:          common.GetSecretHash(secret),
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	if len(events) != 1 {
		t.Fatalf("over-capacity transfer produced %v", events)
	}
	failed, ok := events[0].(*EventPaymentSentFailed)
	if !ok {
		t.Fatalf("over-capacity transfer produced %T, want PaymentSentFailed", events[0])
	}
	if failed.Reason == "" {
		t.Fatal("failure carries no reason")
	}
	ourState := nodeA.GetChannelByID(testChannelID).OurState
	if len(ourState.PendingLocks) != 0 || ourState.BalanceProof != nil {
		t.Fatal("rejected transfer mutated the channel")
	}
}

func TestForceCloseKillsUnrevealedTransfer(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)

	secret := common.RandomSecret()
	secretHash := common.GetSecretHash(secret)
	events := dispatch(t, nodeA, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           1,
		Amount:              big.NewInt(50),
		Secret:              secret,
		SecretHash:          secretHash,
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	if findLockedTransfer(events) == nil {
		t.Fatal("transfer was not composed")
	}

	events = dispatch(t, nodeA, &ActionChannelClose{ChannelID: testChannelID})
	var closeTx *ContractSendChannelClose
	for _, event := range events {
		if typed, ok := event.(*ContractSendChannelClose); ok {
			closeTx = typed
		}
	}
	if closeTx == nil {
		t.Fatalf("close produced %v, want ContractSendChannelClose", events)
	}

	events = dispatch(t, nodeA, &ContractReceiveChannelClosed{
		ChannelID:       testChannelID,
		TransactionFrom: addressA,
		BlockHeight:     12,
	})
	var failed *EventPaymentSentFailed
	for _, event := range events {
		if typed, ok := event.(*EventPaymentSentFailed); ok {
			failed = typed
		}
	}
	if failed == nil {
		t.Fatalf("confirmed close produced %v, want PaymentSentFailed", events)
	}
	if failed.SecretHash != secretHash {
		t.Fatalf("failure for %v, want %v", failed.SecretHash, secretHash)
	}

	// a late reveal must not produce an unlock on a closed channel
	events = dispatch(t, nodeA, &ReceiveSecretReveal{
		Sender:    addressB,
		MessageID: common.GetMsgID(),
		Secret:    secret,
	})
	for _, event := range events {
		if _, ok := event.(*SendBalanceProof); ok {
			t.Fatal("unlock was composed for a closed channel")
		}
	}
}

func TestExactlyOneLockExpiredAcrossTicks(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)

	secret := common.RandomSecret()
	secretHash := common.GetSecretHash(secret)
	events := dispatch(t, nodeA, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           1,
		Amount:              big.NewInt(50),
		Secret:              secret,
		SecretHash:          secretHash,
		Expiration:          100,
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	if findLockedTransfer(events) == nil {
		t.Fatal("transfer was not composed")
	}

	expiredCount := 0
	for _, height := range []common.BlockHeight{99, 100, 103, 104, 105, 200} {
		events = dispatch(t, nodeA, &Block{BlockHeight: height})
		for _, event := range events {
			if _, ok := event.(*SendLockExpired); ok {
				expiredCount++
			}
		}
	}
	if expiredCount != 1 {
		t.Fatalf("%d LockExpired emitted, want exactly 1", expiredCount)
	}
	ourState := nodeA.GetChannelByID(testChannelID).OurState
	if len(ourState.PendingLocks) != 0 {
		t.Fatal("expired lock is still pending")
	}
	if ourState.GetTransferredAmount().Sign() != 0 {
		t.Fatal("lock expiry moved value")
	}
}

func TestWithdrawHandshake(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)
	nodeB := newTestNode(t, addressB, addressA)

	events := dispatch(t, nodeA, &ActionWithdraw{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		TotalWithdraw:       big.NewInt(200),
	})
	if len(events) != 1 {
		t.Fatalf("withdraw produced %v, want one request", events)
	}
	request := events[0].(*SendWithdrawRequest)
	if request.Nonce != 1 {
		t.Fatalf("withdraw request nonce %d, want 1", request.Nonce)
	}
	if request.ChainID != testChainID {
		t.Fatalf("withdraw request chain id %d, want %d", request.ChainID, testChainID)
	}

	events = dispatch(t, nodeB, &ReceiveWithdrawRequest{
		TokenNetworkAddress: request.TokenNetworkAddress,
		ChannelID:           request.ChannelID,
		Participant:         request.Participant,
		TotalWithdraw:       request.TotalWithdraw,
		Nonce:               request.Nonce,
		Expiration:          request.Expiration,
		MessageID:           request.MessageID,
		Signature:           []byte("partner signature"),
	})
	if len(events) != 1 {
		t.Fatalf("withdraw request produced %v, want one confirmation", events)
	}
	confirmation := events[0].(*SendWithdrawConfirmation)
	if confirmation.Participant != addressA {
		t.Fatalf("confirmation participant %v, want requester", confirmation.Participant)
	}

	events = dispatch(t, nodeA, &ReceiveWithdrawConfirmation{
		TokenNetworkAddress: confirmation.TokenNetworkAddress,
		ChannelID:           confirmation.ChannelID,
		Participant:         confirmation.Participant,
		TotalWithdraw:       confirmation.TotalWithdraw,
		Nonce:               confirmation.Nonce,
		Expiration:          confirmation.Expiration,
		MessageID:           confirmation.MessageID,
		Signature:           []byte("confirmation signature"),
	})
	var withdrawTx *ContractSendChannelWithdraw
	for _, event := range events {
		if typed, ok := event.(*ContractSendChannelWithdraw); ok {
			withdrawTx = typed
		}
	}
	if withdrawTx == nil {
		t.Fatalf("confirmation produced %v, want ContractSendChannelWithdraw", events)
	}
	if withdrawTx.TotalWithdraw.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("withdraw tx total %s, want 200", withdrawTx.TotalWithdraw)
	}
}

func TestOverLimitWithdrawRequestRejected(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeB := newTestNode(t, addressB, addressA)

	events := dispatch(t, nodeB, &ReceiveWithdrawRequest{
		TokenNetworkAddress: testTokenNetwork,
		ChannelID:           testChannelID,
		Participant:         addressA,
		TotalWithdraw:       big.NewInt(testInitialBalance + 1),
		Nonce:               1,
		Expiration:          200,
		MessageID:           common.GetMsgID(),
		Signature:           []byte("partner signature"),
	})
	if len(events) != 0 {
		t.Fatalf("over-limit withdraw request produced %v, want rejection", events)
	}
	channel := nodeB.GetChannelByID(testChannelID)
	if channel.OurState.GetNextNonce() != 1 {
		t.Fatal("rejected withdraw consumed our nonce")
	}
	if channel.PartnerPendingWithdraw != nil {
		t.Fatal("rejected withdraw left pending state")
	}
}

func TestStaleNonceRejectedWithoutMutation(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeA := newTestNode(t, addressA, addressB)
	nodeB := newTestNode(t, addressB, addressA)

	secret := common.RandomSecret()
	events := dispatch(t, nodeA, &ActionTransferInit{
		TokenNetworkAddress: testTokenNetwork,
		PartnerAddress:      addressB,
		Target:              addressB,
		PaymentID:           11,
		Amount:              big.NewInt(100),
		Secret:              secret,
		SecretHash:          common.GetSecretHash(secret),
		Routes:              []RouteState{{Route: []common.Address{addressA, addressB}}},
	})
	sendTransfer := findLockedTransfer(events)
	if sendTransfer == nil {
		t.Fatalf("no SendLockedTransfer in %v", events)
	}

	// a skipped nonce is rejected before anything is recorded
	skipped := *sendTransfer.Transfer
	skipped.BalanceProof = sendTransfer.Transfer.BalanceProof.Clone()
	skipped.BalanceProof.Nonce = 3
	events = dispatch(t, nodeB, &ReceiveLockedTransfer{
		MessageID: sendTransfer.MessageID,
		Transfer:  &skipped,
	})
	partnerState := nodeB.GetChannelByID(testChannelID).PartnerState
	if len(events) != 0 {
		t.Fatalf("skipped nonce produced %v, want nothing", events)
	}
	if len(partnerState.PendingLocks) != 0 || partnerState.GetNextNonce() != 1 {
		t.Fatal("skipped nonce mutated the partner end state")
	}
	if len(nodeB.Transfers) != 0 {
		t.Fatal("skipped nonce recorded a transfer")
	}

	// the in-order delivery is accepted
	events = dispatch(t, nodeB, &ReceiveLockedTransfer{
		MessageID: sendTransfer.MessageID,
		Transfer:  sendTransfer.Transfer,
	})
	if len(events) == 0 {
		t.Fatal("valid transfer was rejected")
	}
	if partnerState.GetNextNonce() != 2 || len(partnerState.PendingLocks) != 1 {
		t.Fatal("valid transfer not applied")
	}

	// an identical re-delivery only re-acks, nothing moves
	events = dispatch(t, nodeB, &ReceiveLockedTransfer{
		MessageID: sendTransfer.MessageID,
		Transfer:  sendTransfer.Transfer,
	})
	if len(events) != 1 {
		t.Fatalf("re-delivery produced %v, want one ack", events)
	}
	if _, ok := events[0].(*SendProcessed); !ok {
		t.Fatalf("re-delivery produced %T, want SendProcessed", events[0])
	}
	if partnerState.GetNextNonce() != 2 || len(partnerState.PendingLocks) != 1 {
		t.Fatal("re-delivery mutated the partner end state")
	}

	// an unlock replaying the consumed nonce is dropped cold
	stale := sendTransfer.Transfer.BalanceProof.Clone()
	events = dispatch(t, nodeB, &ReceiveUnlock{
		MessageID:    common.GetMsgID(),
		PaymentID:    11,
		Secret:       secret,
		BalanceProof: stale,
	})
	if len(events) != 0 {
		t.Fatalf("stale unlock produced %v, want nothing", events)
	}
	if len(partnerState.PendingLocks) != 1 {
		t.Fatal("stale unlock removed the pending lock")
	}
	if partnerState.GetTransferredAmount().Sign() != 0 {
		t.Fatal("stale unlock moved value")
	}
	checkEndConsistency(t, partnerState)
}

func TestRetriedWithdrawRequestReturnsSameConfirmation(t *testing.T) {
	addressA := testAddress(0x01)
	addressB := testAddress(0x02)
	nodeB := newTestNode(t, addressB, addressA)

	request := &ReceiveWithdrawRequest{
		TokenNetworkAddress: testTokenNetwork,
		ChannelID:           testChannelID,
		Participant:         addressA,
		TotalWithdraw:       big.NewInt(200),
		Nonce:               1,
		Expiration:          200,
		MessageID:           common.GetMsgID(),
		Signature:           []byte("partner signature"),
	}
	events := dispatch(t, nodeB, request)
	if len(events) != 1 {
		t.Fatalf("withdraw request produced %v, want one confirmation", events)
	}
	first := events[0].(*SendWithdrawConfirmation)

	channel := nodeB.GetChannelByID(testChannelID)
	ourNonce := channel.OurState.GetNextNonce()
	partnerNonce := channel.PartnerState.GetNextNonce()

	events = dispatch(t, nodeB, request)
	if len(events) != 1 {
		t.Fatalf("retried request produced %v, want one confirmation", events)
	}
	second := events[0].(*SendWithdrawConfirmation)
	if second.Nonce != first.Nonce || second.MessageID != first.MessageID ||
		second.Expiration != first.Expiration || second.Participant != first.Participant ||
		second.TotalWithdraw.Cmp(first.TotalWithdraw) != 0 {
		t.Fatalf("retried confirmation %+v differs from %+v", second, first)
	}
	if channel.OurState.GetNextNonce() != ourNonce ||
		channel.PartnerState.GetNextNonce() != partnerNonce {
		t.Fatal("retried request consumed a nonce")
	}
}
