package transfer

import (
	"fmt"
	"math/big"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
)

// withdrawPlanned is the larger of the confirmed total withdraw and the
// in-flight requested one, so capacity is never promised twice.
func withdrawPlanned(endState *ChannelEndState, pending *PendingWithdrawState) common.TokenAmount {
	total := endState.GetTotalWithdraw()
	if pending != nil && common.AmountOrZero(pending.TotalWithdraw).Cmp(total) > 0 {
		total = common.AmountOrZero(pending.TotalWithdraw)
	}
	return total
}

// GetDistributable returns what the sender side can still lock or transfer:
// deposit minus planned withdraw minus everything already sent or locked,
// plus everything received from the other side.
func GetDistributable(sender *ChannelEndState, receiver *ChannelEndState,
	senderPendingWithdraw *PendingWithdrawState) common.TokenAmount {

	result := new(big.Int).Set(sender.GetContractBalance())
	result.Sub(result, withdrawPlanned(sender, senderPendingWithdraw))
	result.Add(result, receiver.GetTransferredAmount())
	result.Sub(result, sender.GetTransferredAmount())
	result.Sub(result, sender.AmountLocked())
	if result.Sign() < 0 {
		return new(big.Int)
	}
	return result
}

func isChannelUsable(channel *ChannelState) (bool, string) {
	if channel.GetStatus() != ChannelStateOpen {
		return false, fmt.Sprintf("channel %d is not open", channel.Identifier)
	}
	return true, ""
}

// isBalanceProofUsable runs the checks shared by every received envelope
// message. The first failure rejects the whole message.
func isBalanceProofUsable(receivedProof *BalanceProofSignedState, channel *ChannelState,
	senderState *ChannelEndState) (bool, string) {

	expectedNonce := senderState.GetNextNonce()

	if usable, reason := isChannelUsable(channel); !usable {
		return false, reason
	}
	if receivedProof.ChainID != channel.ChainID {
		return false, fmt.Sprintf("chain id mismatch, expected %d got %d",
			channel.ChainID, receivedProof.ChainID)
	}
	if receivedProof.ChannelID != channel.Identifier {
		return false, fmt.Sprintf("channel id mismatch, expected %d got %d",
			channel.Identifier, receivedProof.ChannelID)
	}
	if receivedProof.TokenNetworkAddress != channel.TokenNetworkAddress {
		return false, "token network mismatch"
	}
	if receivedProof.Nonce != expectedNonce {
		return false, fmt.Sprintf("nonce mismatch, expected %d got %d",
			expectedNonce, receivedProof.Nonce)
	}
	return true, ""
}

// IsValidLockedTransfer validates a received LockedTransfer against the
// sender's prior balance proof: one new lock appended, transferred amount
// untouched, locksroot reproducible, amount within capacity.
func IsValidLockedTransfer(transfer *LockedTransferSignedState, channel *ChannelState,
	senderState *ChannelEndState, receiverState *ChannelEndState,
	senderPendingWithdraw *PendingWithdrawState) (bool, string) {

	receivedProof := transfer.BalanceProof
	lock := transfer.Lock

	if usable, reason := isBalanceProofUsable(receivedProof, channel, senderState); !usable {
		return false, reason
	}
	if _, exist := senderState.SecretHashesToLockedLocks[lock.SecretHash]; exist {
		return false, "lock with the same secrethash is already pending"
	}
	if common.AmountOrZero(lock.Amount).Sign() <= 0 {
		return false, "lock amount must be positive"
	}

	expectedLocked := new(big.Int).Add(senderState.GetLockedAmount(), lock.Amount)
	if common.AmountOrZero(receivedProof.LockedAmount).Cmp(expectedLocked) != 0 {
		return false, fmt.Sprintf("locked amount mismatch, expected %s got %s",
			expectedLocked, receivedProof.LockedAmount)
	}
	if common.AmountOrZero(receivedProof.TransferredAmount).Cmp(senderState.GetTransferredAmount()) != 0 {
		return false, "transferred amount must not change on a locked transfer"
	}

	newLocks := append(append([]*HashTimeLockState{}, senderState.PendingLocks...), lock)
	if ComputeLocksroot(newLocks) != receivedProof.Locksroot {
		return false, "locksroot mismatch"
	}

	distributable := GetDistributable(senderState, receiverState, senderPendingWithdraw)
	if common.AmountOrZero(lock.Amount).Cmp(distributable) > 0 {
		return false, fmt.Sprintf("lock amount %s exceeds distributable %s",
			lock.Amount, distributable)
	}
	return true, ""
}

// IsValidUnlock validates a received Unlock: the lock is removed, its full
// amount moves into the transferred amount.
func IsValidUnlock(receivedProof *BalanceProofSignedState, channel *ChannelState,
	senderState *ChannelEndState, secretHash common.SecretHash) (bool, string) {

	lock := senderState.GetLock(secretHash)
	if lock == nil {
		return false, fmt.Sprintf("no pending lock for secrethash %v", secretHash)
	}
	if usable, reason := isBalanceProofUsable(receivedProof, channel, senderState); !usable {
		return false, reason
	}

	expectedTransferred := new(big.Int).Add(senderState.GetTransferredAmount(), lock.Amount)
	expectedLocked := new(big.Int).Sub(senderState.GetLockedAmount(), lock.Amount)

	if common.AmountOrZero(receivedProof.TransferredAmount).Cmp(expectedTransferred) != 0 {
		return false, fmt.Sprintf("transferred amount mismatch, expected %s got %s",
			expectedTransferred, receivedProof.TransferredAmount)
	}
	if common.AmountOrZero(receivedProof.LockedAmount).Cmp(expectedLocked) != 0 {
		return false, fmt.Sprintf("locked amount mismatch, expected %s got %s",
			expectedLocked, receivedProof.LockedAmount)
	}
	if ComputeLocksroot(locksWithout(senderState.PendingLocks, secretHash)) != receivedProof.Locksroot {
		return false, "locksroot mismatch"
	}
	return true, ""
}

// IsValidLockExpired validates a received LockExpired: the lock is removed
// without moving value, and it must actually be expired from our view.
func IsValidLockExpired(receivedProof *BalanceProofSignedState, channel *ChannelState,
	senderState *ChannelEndState, secretHash common.SecretHash,
	blockHeight common.BlockHeight, confirmBlocks common.BlockHeight) (bool, string) {

	lock := senderState.GetLock(secretHash)
	if lock == nil {
		return false, fmt.Sprintf("no pending lock for secrethash %v", secretHash)
	}
	if _, known := senderState.SecretHashesToOnChainUnlockedLocks[secretHash]; known {
		return false, "secret was registered on chain, lock may not expire"
	}
	if blockHeight <= lock.Expiration+confirmBlocks {
		return false, fmt.Sprintf("lock has not expired yet, expiration %d block %d",
			lock.Expiration, blockHeight)
	}
	if usable, reason := isBalanceProofUsable(receivedProof, channel, senderState); !usable {
		return false, reason
	}

	expectedLocked := new(big.Int).Sub(senderState.GetLockedAmount(), lock.Amount)
	if common.AmountOrZero(receivedProof.TransferredAmount).Cmp(senderState.GetTransferredAmount()) != 0 {
		return false, "transferred amount must not change on lock expiry"
	}
	if common.AmountOrZero(receivedProof.LockedAmount).Cmp(expectedLocked) != 0 {
		return false, fmt.Sprintf("locked amount mismatch, expected %s got %s",
			expectedLocked, receivedProof.LockedAmount)
	}
	if ComputeLocksroot(locksWithout(senderState.PendingLocks, secretHash)) != receivedProof.Locksroot {
		return false, "locksroot mismatch"
	}
	return true, ""
}

// IsValidWithdrawRequest checks a partner's withdraw against their share of
// the channel and a fresh expiration window.
func IsValidWithdrawRequest(channel *ChannelState, participant common.Address,
	totalWithdraw common.TokenAmount, nonce common.Nonce, expiration common.BlockHeight,
	blockHeight common.BlockHeight) (bool, string) {

	if usable, reason := isChannelUsable(channel); !usable {
		return false, reason
	}
	if participant != channel.PartnerState.Address {
		return false, "withdraw request participant is not the channel partner"
	}
	if nonce != channel.PartnerState.GetNextNonce() {
		return false, fmt.Sprintf("withdraw nonce mismatch, expected %d got %d",
			channel.PartnerState.GetNextNonce(), nonce)
	}
	if common.AmountOrZero(totalWithdraw).Cmp(channel.PartnerState.GetTotalWithdraw()) <= 0 {
		return false, "total withdraw did not increase"
	}
	if expiration <= blockHeight+common.BlockHeight(channel.RevealTimeout) {
		return false, fmt.Sprintf("withdraw expiration %d too close to block %d",
			expiration, blockHeight)
	}

	limit := new(big.Int).Add(channel.PartnerState.GetContractBalance(),
		channel.OurState.GetTransferredAmount())
	if common.AmountOrZero(totalWithdraw).Cmp(limit) > 0 {
		return false, fmt.Sprintf("total withdraw %s exceeds withdrawable %s",
			totalWithdraw, limit)
	}
	return true, ""
}

func locksWithout(locks []*HashTimeLockState, secretHash common.SecretHash) []*HashTimeLockState {
	result := make([]*HashTimeLockState, 0, len(locks))
	for _, lock := range locks {
		if lock.SecretHash != secretHash {
			result = append(result, lock)
		}
	}
	return result
}

func deleteLock(endState *ChannelEndState, secretHash common.SecretHash) {
	endState.PendingLocks = locksWithout(endState.PendingLocks, secretHash)
	delete(endState.SecretHashesToLockedLocks, secretHash)
	delete(endState.SecretHashesToUnlockedLocks, secretHash)
	delete(endState.SecretHashesToOnChainUnlockedLocks, secretHash)
}

// RegisterOffChainSecret moves the lock for the revealed secret into the
// unlocked set on whichever ends hold it.
func RegisterOffChainSecret(channel *ChannelState, secret common.Secret, secretHash common.SecretHash) {
	for _, endState := range []*ChannelEndState{channel.OurState, channel.PartnerState} {
		if lock, exist := endState.SecretHashesToLockedLocks[secretHash]; exist {
			delete(endState.SecretHashesToLockedLocks, secretHash)
			endState.SecretHashesToUnlockedLocks[secretHash] = &UnlockPartialProofState{
				Lock:   lock,
				Secret: secret,
			}
		}
	}
}

// RegisterOnChainSecret is the same for a secret registered on chain, which
// additionally survives channel close.
func RegisterOnChainSecret(channel *ChannelState, secret common.Secret, secretHash common.SecretHash) {
	for _, endState := range []*ChannelEndState{channel.OurState, channel.PartnerState} {
		lock, exist := endState.SecretHashesToLockedLocks[secretHash]
		if !exist {
			if partial, ok := endState.SecretHashesToUnlockedLocks[secretHash]; ok {
				lock = partial.Lock
				delete(endState.SecretHashesToUnlockedLocks, secretHash)
			}
		} else {
			delete(endState.SecretHashesToLockedLocks, secretHash)
		}
		if lock != nil {
			endState.SecretHashesToOnChainUnlockedLocks[secretHash] = &UnlockPartialProofState{
				Lock:   lock,
				Secret: secret,
			}
		}
	}
}

// consumeNonce advances an end's balance proof nonce without touching the
// amounts, used by the withdraw handshake.
func consumeNonce(channel *ChannelState, endState *ChannelEndState) *BalanceProofSignedState {
	proof := &BalanceProofSignedState{
		Nonce:               endState.GetNextNonce(),
		TransferredAmount:   endState.GetTransferredAmount(),
		LockedAmount:        endState.GetLockedAmount(),
		Locksroot:           ComputeLocksroot(endState.PendingLocks),
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		ChainID:             channel.ChainID,
		Sender:              endState.Address,
	}
	endState.BalanceProof = proof
	return proof
}

// CreateSendLockedTransfer composes the first mutation of a payment: a new
// lock appended to our pending set and the matching balance proof. The
// channel state is updated in place.
func CreateSendLockedTransfer(channel *ChannelState, initiator common.Address,
	target common.Address, amount common.TokenAmount, expiration common.BlockHeight,
	paymentID common.PaymentID, messageID common.MessageID, secretHash common.SecretHash,
	routes []RouteState) (*SendLockedTransfer, string) {

	if usable, reason := isChannelUsable(channel); !usable {
		return nil, reason
	}
	distributable := GetDistributable(channel.OurState, channel.PartnerState, channel.OurPendingWithdraw)
	if common.AmountOrZero(amount).Cmp(distributable) > 0 {
		return nil, fmt.Sprintf("amount %s exceeds distributable %s", amount, distributable)
	}
	if _, exist := channel.OurState.SecretHashesToLockedLocks[secretHash]; exist {
		return nil, "lock with the same secrethash is already pending"
	}

	lock := &HashTimeLockState{
		Amount:     common.AmountOrZero(amount),
		Expiration: expiration,
		SecretHash: secretHash,
	}
	ourState := channel.OurState
	newLocks := append(append([]*HashTimeLockState{}, ourState.PendingLocks...), lock)

	proof := &BalanceProofSignedState{
		Nonce:               ourState.GetNextNonce(),
		TransferredAmount:   ourState.GetTransferredAmount(),
		LockedAmount:        new(big.Int).Add(ourState.GetLockedAmount(), lock.Amount),
		Locksroot:           ComputeLocksroot(newLocks),
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		ChainID:             channel.ChainID,
		Sender:              ourState.Address,
	}

	ourState.PendingLocks = newLocks
	ourState.SecretHashesToLockedLocks[secretHash] = lock
	ourState.BalanceProof = proof

	transfer := &LockedTransferSignedState{
		MessageID:    messageID,
		PaymentID:    paymentID,
		Token:        channel.TokenAddress,
		BalanceProof: proof,
		Lock:         lock,
		Initiator:    initiator,
		Target:       target,
		Routes:       routes,
	}
	return &SendLockedTransfer{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: messageID,
		},
		Transfer: transfer,
	}, ""
}

// CreateUnlock composes the Unlock for a revealed secret: the lock is
// removed from our pending set and its amount moves into transferred.
func CreateUnlock(channel *ChannelState, messageID common.MessageID, paymentID common.PaymentID,
	secret common.Secret, secretHash common.SecretHash,
	registeredOnChain bool, blockHeight common.BlockHeight) (*SendBalanceProof, string) {

	ourState := channel.OurState
	lock := ourState.GetLock(secretHash)
	if lock == nil {
		return nil, fmt.Sprintf("no pending lock for secrethash %v", secretHash)
	}
	if usable, reason := isChannelUsable(channel); !usable {
		return nil, reason
	}
	if !registeredOnChain && blockHeight >= lock.Expiration {
		return nil, fmt.Sprintf("lock expired at %d, current block %d", lock.Expiration, blockHeight)
	}

	newLocks := locksWithout(ourState.PendingLocks, secretHash)
	proof := &BalanceProofSignedState{
		Nonce:               ourState.GetNextNonce(),
		TransferredAmount:   new(big.Int).Add(ourState.GetTransferredAmount(), lock.Amount),
		LockedAmount:        new(big.Int).Sub(ourState.GetLockedAmount(), lock.Amount),
		Locksroot:           ComputeLocksroot(newLocks),
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		ChainID:             channel.ChainID,
		Sender:              ourState.Address,
	}

	deleteLock(ourState, secretHash)
	ourState.PendingLocks = newLocks
	ourState.BalanceProof = proof

	return &SendBalanceProof{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: messageID,
		},
		PaymentID:    paymentID,
		TokenAddress: channel.TokenAddress,
		Secret:       secret,
		BalanceProof: proof,
	}, ""
}

// CreateSendExpiredLock removes an expired lock from our pending set
// without moving value.
func CreateSendExpiredLock(channel *ChannelState, messageID common.MessageID,
	secretHash common.SecretHash) (*SendLockExpired, string) {

	ourState := channel.OurState
	lock := ourState.GetLock(secretHash)
	if lock == nil {
		return nil, fmt.Sprintf("no pending lock for secrethash %v", secretHash)
	}

	newLocks := locksWithout(ourState.PendingLocks, secretHash)
	proof := &BalanceProofSignedState{
		Nonce:               ourState.GetNextNonce(),
		TransferredAmount:   ourState.GetTransferredAmount(),
		LockedAmount:        new(big.Int).Sub(ourState.GetLockedAmount(), lock.Amount),
		Locksroot:           ComputeLocksroot(newLocks),
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		ChainID:             channel.ChainID,
		Sender:              ourState.Address,
	}

	deleteLock(ourState, secretHash)
	ourState.PendingLocks = newLocks
	ourState.BalanceProof = proof

	return &SendLockExpired{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: messageID,
		},
		SecretHash:   secretHash,
		BalanceProof: proof,
	}, ""
}

// ApplyLockedTransfer applies a validated incoming transfer to the
// partner's end and acknowledges it.
func ApplyLockedTransfer(channel *ChannelState, transfer *LockedTransferSignedState,
	messageID common.MessageID) ([]Event, string) {

	valid, reason := IsValidLockedTransfer(transfer, channel, channel.PartnerState,
		channel.OurState, channel.PartnerPendingWithdraw)
	if !valid {
		return nil, reason
	}

	partnerState := channel.PartnerState
	partnerState.PendingLocks = append(partnerState.PendingLocks, transfer.Lock)
	partnerState.SecretHashesToLockedLocks[transfer.Lock.SecretHash] = transfer.Lock
	partnerState.BalanceProof = transfer.BalanceProof

	processed := &SendProcessed{
		SendMessageEvent: SendMessageEvent{
			Recipient: partnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: messageID,
		},
	}
	return []Event{processed}, ""
}

// ApplyUnlock applies a validated incoming Unlock to the partner's
// end.
func ApplyUnlock(channel *ChannelState, stateChange *ReceiveUnlock) ([]Event, string) {
	secretHash := common.GetSecretHash(stateChange.Secret)
	valid, reason := IsValidUnlock(stateChange.BalanceProof, channel, channel.PartnerState, secretHash)
	if !valid {
		return nil, reason
	}

	partnerState := channel.PartnerState
	deleteLock(partnerState, secretHash)
	partnerState.BalanceProof = stateChange.BalanceProof

	processed := &SendProcessed{
		SendMessageEvent: SendMessageEvent{
			Recipient: partnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: stateChange.MessageID,
		},
	}
	return []Event{processed}, ""
}

// ApplyLockExpired applies a validated incoming LockExpired to the
// partner's end.
func ApplyLockExpired(channel *ChannelState, stateChange *ReceiveLockExpired,
	blockHeight common.BlockHeight, confirmBlocks common.BlockHeight) ([]Event, string) {

	valid, reason := IsValidLockExpired(stateChange.BalanceProof, channel, channel.PartnerState,
		stateChange.SecretHash, blockHeight, confirmBlocks)
	if !valid {
		return nil, reason
	}

	partnerState := channel.PartnerState
	deleteLock(partnerState, stateChange.SecretHash)
	partnerState.BalanceProof = stateChange.BalanceProof

	processed := &SendProcessed{
		SendMessageEvent: SendMessageEvent{
			Recipient: partnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: stateChange.MessageID,
		},
	}
	return []Event{processed}, ""
}

// EventsForClose marks the channel closing and submits the close with the
// partner's latest balance proof.
func EventsForClose(channel *ChannelState, blockHeight common.BlockHeight) []Event {
	status := channel.GetStatus()
	if status != ChannelStateOpening && status != ChannelStateOpen {
		return nil
	}
	channel.CloseTransaction = &TransactionExecutionStatus{
		StartedBlockHeight: blockHeight,
	}
	return []Event{&ContractSendChannelClose{
		ChannelID:           channel.Identifier,
		TokenNetworkAddress: channel.TokenNetworkAddress,
		BalanceProof:        channel.PartnerState.BalanceProof.Clone(),
	}}
}

func eventsForSettle(channel *ChannelState, blockHeight common.BlockHeight,
	confirmBlocks common.BlockHeight) []Event {

	if channel.GetStatus() != ChannelStateClosed || channel.SettleTransaction != nil {
		return nil
	}
	closeBlock := channel.CloseBlockHeight()
	if closeBlock == 0 {
		return nil
	}
	if blockHeight < closeBlock+common.BlockHeight(channel.SettleTimeout)+confirmBlocks {
		return nil
	}
	channel.SettleTransaction = &TransactionExecutionStatus{
		StartedBlockHeight: blockHeight,
	}
	return []Event{&ContractSendChannelSettle{
		ChannelID:           channel.Identifier,
		TokenNetworkAddress: channel.TokenNetworkAddress,
	}}
}

// HandleActionWithdraw starts our side of the withdraw handshake, consuming
// our next nonce.
func HandleActionWithdraw(channel *ChannelState, totalWithdraw common.TokenAmount,
	blockHeight common.BlockHeight, revealTimeout common.BlockTimeout,
	messageID common.MessageID) ([]Event, string) {

	if usable, reason := isChannelUsable(channel); !usable {
		return nil, reason
	}
	if channel.OurPendingWithdraw != nil {
		return nil, "a withdraw is already in flight"
	}
	if common.AmountOrZero(totalWithdraw).Cmp(channel.OurState.GetTotalWithdraw()) <= 0 {
		return nil, "total withdraw did not increase"
	}
	limit := new(big.Int).Add(channel.OurState.GetContractBalance(),
		channel.PartnerState.GetTransferredAmount())
	if common.AmountOrZero(totalWithdraw).Cmp(limit) > 0 {
		return nil, fmt.Sprintf("total withdraw %s exceeds withdrawable %s", totalWithdraw, limit)
	}

	expiration := blockHeight + 2*common.BlockHeight(revealTimeout)
	proof := consumeNonce(channel, channel.OurState)
	channel.OurPendingWithdraw = &PendingWithdrawState{
		TotalWithdraw: common.AmountOrZero(totalWithdraw),
		Expiration:    expiration,
		Nonce:         proof.Nonce,
		MessageID:     messageID,
	}

	return []Event{&SendWithdrawRequest{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: messageID,
		},
		ChainID:             channel.ChainID,
		TokenNetworkAddress: channel.TokenNetworkAddress,
		Participant:         channel.OurState.Address,
		TotalWithdraw:       common.AmountOrZero(totalWithdraw),
		Nonce:               proof.Nonce,
		Expiration:          expiration,
	}}, ""
}

// HandleReceiveWithdrawRequest validates the partner's request and answers
// with a confirmation consuming our next nonce. A retried identical
// request gets the original confirmation back without consuming another.
func HandleReceiveWithdrawRequest(channel *ChannelState, stateChange *ReceiveWithdrawRequest,
	blockHeight common.BlockHeight) ([]Event, string) {

	if pending := channel.PartnerPendingWithdraw; pending != nil &&
		pending.MessageID == stateChange.MessageID &&
		pending.Nonce == stateChange.Nonce &&
		pending.Expiration == stateChange.Expiration &&
		pending.TotalWithdraw.Cmp(common.AmountOrZero(stateChange.TotalWithdraw)) == 0 {
		return []Event{withdrawConfirmationFor(channel, stateChange, pending.ConfirmationNonce)}, ""
	}

	valid, reason := IsValidWithdrawRequest(channel, stateChange.Participant,
		stateChange.TotalWithdraw, stateChange.Nonce, stateChange.Expiration, blockHeight)
	if !valid {
		return nil, reason
	}

	partnerProof := consumeNonce(channel, channel.PartnerState)
	partnerProof.Signature = stateChange.Signature

	ourProof := consumeNonce(channel, channel.OurState)
	channel.PartnerPendingWithdraw = &PendingWithdrawState{
		TotalWithdraw:     common.AmountOrZero(stateChange.TotalWithdraw),
		Expiration:        stateChange.Expiration,
		Nonce:             stateChange.Nonce,
		MessageID:         stateChange.MessageID,
		ConfirmationNonce: ourProof.Nonce,
	}
	return []Event{withdrawConfirmationFor(channel, stateChange, ourProof.Nonce)}, ""
}

func withdrawConfirmationFor(channel *ChannelState, stateChange *ReceiveWithdrawRequest,
	nonce common.Nonce) Event {

	return &SendWithdrawConfirmation{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: stateChange.MessageID,
		},
		ChainID:             channel.ChainID,
		TokenNetworkAddress: channel.TokenNetworkAddress,
		Participant:         stateChange.Participant,
		TotalWithdraw:       common.AmountOrZero(stateChange.TotalWithdraw),
		Nonce:               nonce,
		Expiration:          stateChange.Expiration,
	}
}

// HandleReceiveWithdrawConfirmation matches the partner's confirmation
// against our pending request and submits the withdraw on chain.
func HandleReceiveWithdrawConfirmation(channel *ChannelState,
	stateChange *ReceiveWithdrawConfirmation, blockHeight common.BlockHeight) ([]Event, string) {

	pending := channel.OurPendingWithdraw
	if pending == nil {
		return nil, "no withdraw in flight"
	}
	if stateChange.Participant != channel.OurState.Address {
		return nil, "confirmation participant is not us"
	}
	if common.AmountOrZero(stateChange.TotalWithdraw).Cmp(pending.TotalWithdraw) != 0 {
		return nil, "confirmation total withdraw mismatch"
	}
	if stateChange.Expiration != pending.Expiration {
		return nil, "confirmation expiration mismatch"
	}
	if stateChange.Nonce != channel.PartnerState.GetNextNonce() {
		return nil, fmt.Sprintf("withdraw confirmation nonce mismatch, expected %d got %d",
			channel.PartnerState.GetNextNonce(), stateChange.Nonce)
	}
	if blockHeight >= pending.Expiration {
		return nil, "withdraw expired before confirmation arrived"
	}

	partnerProof := consumeNonce(channel, channel.PartnerState)
	partnerProof.Signature = stateChange.Signature

	return []Event{&ContractSendChannelWithdraw{
		ChannelID:           channel.Identifier,
		TokenNetworkAddress: channel.TokenNetworkAddress,
		TotalWithdraw:       common.AmountOrZero(pending.TotalWithdraw),
		Expiration:          pending.Expiration,
		PartnerSignature:    stateChange.Signature,
	}}, ""
}

// HandleReceiveWithdrawExpired wipes the partner's stale withdraw after
// verifying the expiry actually passed.
func HandleReceiveWithdrawExpired(channel *ChannelState, stateChange *ReceiveWithdrawExpired,
	blockHeight common.BlockHeight, confirmBlocks common.BlockHeight) ([]Event, string) {

	pending := channel.PartnerPendingWithdraw
	if pending == nil {
		return nil, "no partner withdraw in flight"
	}
	if stateChange.Participant != channel.PartnerState.Address {
		return nil, "withdraw expired participant is not the partner"
	}
	if common.AmountOrZero(stateChange.TotalWithdraw).Cmp(pending.TotalWithdraw) != 0 {
		return nil, "withdraw expired total mismatch"
	}
	if blockHeight <= pending.Expiration+confirmBlocks {
		return nil, fmt.Sprintf("withdraw has not expired yet, expiration %d block %d",
			pending.Expiration, blockHeight)
	}
	if stateChange.Nonce != channel.PartnerState.GetNextNonce() {
		return nil, fmt.Sprintf("withdraw expired nonce mismatch, expected %d got %d",
			channel.PartnerState.GetNextNonce(), stateChange.Nonce)
	}

	consumeNonce(channel, channel.PartnerState)
	channel.PartnerPendingWithdraw = nil

	return []Event{&SendProcessed{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: stateChange.MessageID,
		},
	}}, ""
}

// eventsForExpiredWithdraw gives up on our withdraw once its expiration is
// confirmed past, consuming a nonce for the WithdrawExpired notification.
func eventsForExpiredWithdraw(channel *ChannelState, blockHeight common.BlockHeight,
	confirmBlocks common.BlockHeight, messageID common.MessageID) []Event {

	pending := channel.OurPendingWithdraw
	if pending == nil || blockHeight <= pending.Expiration+confirmBlocks {
		return nil
	}
	proof := consumeNonce(channel, channel.OurState)
	channel.OurPendingWithdraw = nil

	return []Event{
		&SendWithdrawExpired{
			SendMessageEvent: SendMessageEvent{
				Recipient: channel.PartnerState.Address,
				ChannelID: channel.Identifier,
				MessageID: messageID,
			},
			ChainID:             channel.ChainID,
			TokenNetworkAddress: channel.TokenNetworkAddress,
			Participant:         channel.OurState.Address,
			TotalWithdraw:       common.AmountOrZero(pending.TotalWithdraw),
			Nonce:               proof.Nonce,
			Expiration:          pending.Expiration,
		},
		&EventWithdrawFailed{
			ChannelID:     channel.Identifier,
			Participant:   channel.OurState.Address,
			TotalWithdraw: common.AmountOrZero(pending.TotalWithdraw),
			Reason:        "withdraw expired without confirmation",
		},
	}
}

func handleChannelClosed(channel *ChannelState, stateChange *ContractReceiveChannelClosed) []Event {
	if channel.CloseTransaction == nil {
		channel.CloseTransaction = &TransactionExecutionStatus{}
	}
	channel.CloseTransaction.FinishedBlockHeight = stateChange.BlockHeight
	channel.CloseTransaction.Result = TxnExecSucceeded

	return []Event{&EventChannelClosed{
		ChannelID:           channel.Identifier,
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ClosedBy:            stateChange.TransactionFrom,
	}}
}

func handleChannelSettled(channel *ChannelState, stateChange *ContractReceiveChannelSettled) []Event {
	if channel.SettleTransaction == nil {
		channel.SettleTransaction = &TransactionExecutionStatus{}
	}
	channel.SettleTransaction.FinishedBlockHeight = stateChange.BlockHeight
	channel.SettleTransaction.Result = TxnExecSucceeded

	return []Event{&EventChannelSettled{
		ChannelID:           channel.Identifier,
		TokenNetworkAddress: channel.TokenNetworkAddress,
	}}
}

func applyChannelUpdate(channel *ChannelState, deposit TransactionChannelDeposit) {
	var endState *ChannelEndState
	if deposit.ParticipantAddress == channel.OurState.Address {
		endState = channel.OurState
	} else if deposit.ParticipantAddress == channel.PartnerState.Address {
		endState = channel.PartnerState
	} else {
		log.Warnf("deposit for unknown participant %v on channel %d",
			deposit.ParticipantAddress, channel.Identifier)
		return
	}
	// total deposits only grow
	if common.AmountOrZero(deposit.ContractBalance).Cmp(endState.GetContractBalance()) > 0 {
		endState.ContractBalance = common.AmountOrZero(deposit.ContractBalance)
	}
}

func handleChannelDeposit(channel *ChannelState, stateChange *ContractReceiveChannelDeposit) []Event {
	deposit := TransactionChannelDeposit{
		ParticipantAddress: stateChange.Participant,
		ContractBalance:    stateChange.TotalDeposit,
		DepositBlockHeight: stateChange.BlockHeight,
	}
	channel.DepositTransactionQueue = channel.DepositTransactionQueue.Push(deposit)

	for len(channel.DepositTransactionQueue) > 0 {
		next := channel.DepositTransactionQueue[0]
		channel.DepositTransactionQueue = channel.DepositTransactionQueue[1:]
		applyChannelUpdate(channel, next)
	}

	return []Event{&EventChannelDeposit{
		ChannelID:    channel.Identifier,
		Participant:  stateChange.Participant,
		TotalDeposit: common.AmountOrZero(stateChange.TotalDeposit),
	}}
}

func handleChannelWithdraw(channel *ChannelState, stateChange *ContractReceiveChannelWithdraw) []Event {
	var endState *ChannelEndState
	if stateChange.Participant == channel.OurState.Address {
		endState = channel.OurState
		channel.OurPendingWithdraw = nil
	} else if stateChange.Participant == channel.PartnerState.Address {
		endState = channel.PartnerState
		channel.PartnerPendingWithdraw = nil
	} else {
		return nil
	}
	endState.TotalWithdraw = common.AmountOrZero(stateChange.TotalWithdraw)

	return []Event{&EventChannelWithdraw{
		ChannelID:     channel.Identifier,
		Participant:   stateChange.Participant,
		TotalWithdraw: common.AmountOrZero(stateChange.TotalWithdraw),
	}}
}

// StateTransitionForChannel routes channel scoped state changes. The caller
// resolved the channel already, message scoped changes that touch transfer
// state go through the node transition instead.
func StateTransitionForChannel(channel *ChannelState, stateChange StateChange,
	blockHeight common.BlockHeight, confirmBlocks common.BlockHeight) []Event {

	var events []Event
	var reason string

	switch change := stateChange.(type) {
	case *Block:
		events = append(events, eventsForSettle(channel, change.BlockHeight, confirmBlocks)...)
		if channel.OurPendingWithdraw != nil {
			events = append(events, eventsForExpiredWithdraw(channel, change.BlockHeight,
				confirmBlocks, common.GetMsgID())...)
		}
	case *ActionChannelClose:
		events = EventsForClose(channel, blockHeight)
	case *ActionChannelSettle:
		if channel.GetStatus() == ChannelStateClosed {
			events = eventsForSettle(channel, blockHeight, 0)
		}
	case *ContractReceiveChannelClosed:
		events = handleChannelClosed(channel, change)
	case *ContractReceiveChannelSettled:
		events = handleChannelSettled(channel, change)
	case *ContractReceiveChannelDeposit:
		events = handleChannelDeposit(channel, change)
	case *ContractReceiveChannelWithdraw:
		events = handleChannelWithdraw(channel, change)
	case *ReceiveWithdrawRequest:
		events, reason = HandleReceiveWithdrawRequest(channel, change, blockHeight)
	case *ReceiveWithdrawConfirmation:
		events, reason = HandleReceiveWithdrawConfirmation(channel, change, blockHeight)
	case *ReceiveWithdrawExpired:
		events, reason = HandleReceiveWithdrawExpired(channel, change, blockHeight, confirmBlocks)
	}
	if reason != "" {
		log.Debugf("channel %d rejected %T: %s", channel.Identifier, stateChange, reason)
	}
	return events
}
