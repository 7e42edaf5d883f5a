package transfer

import (
	"fmt"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
)

// Sent transfer handling: payment initiation, the secret flow on the
// sending side, unlock composition and lock expiry.

func paymentSentFailed(channel *ChannelState, transferState *TransferState, reason string) Event {
	return &EventPaymentSentFailed{
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		PaymentID:           transferState.Transfer.PaymentID,
		Target:              transferState.Transfer.Target,
		SecretHash:          transferState.Key.SecretHash,
		Reason:              reason,
	}
}

// HandleActionTransferInit composes and records the first mutation of a
// payment. An existing transfer for the same secrethash makes this a no-op.
func HandleActionTransferInit(chainState *ChainState, stateChange *ActionTransferInit) []Event {
	key := TransferKey{SecretHash: stateChange.SecretHash, Direction: DirectionSent}
	if chainState.GetTransfer(key) != nil {
		log.Debugf("transfer for secrethash %v already pending", stateChange.SecretHash)
		return nil
	}

	channelKey := ChannelKey{
		TokenNetworkAddress: stateChange.TokenNetworkAddress,
		PartnerAddress:      stateChange.PartnerAddress,
	}
	channel := chainState.GetChannel(channelKey)
	if channel == nil {
		return []Event{&EventPaymentSentFailed{
			TokenNetworkAddress: stateChange.TokenNetworkAddress,
			PaymentID:           stateChange.PaymentID,
			Target:              stateChange.Target,
			SecretHash:          stateChange.SecretHash,
			Reason:              "no channel with partner",
		}}
	}

	expiration := stateChange.Expiration
	if expiration == 0 {
		expiration = chainState.BlockHeight + 2*common.BlockHeight(channel.RevealTimeout)
	} else if expiration < chainState.BlockHeight+common.BlockHeight(channel.RevealTimeout) {
		return []Event{&EventPaymentSentFailed{
			TokenNetworkAddress: stateChange.TokenNetworkAddress,
			ChannelID:           channel.Identifier,
			PaymentID:           stateChange.PaymentID,
			Target:              stateChange.Target,
			SecretHash:          stateChange.SecretHash,
			Reason:              "expiration is below the reveal timeout margin",
		}}
	}

	messageID := common.GetMsgID()
	sendTransfer, reason := CreateSendLockedTransfer(channel, chainState.Address,
		stateChange.Target, stateChange.Amount, expiration, stateChange.PaymentID,
		messageID, stateChange.SecretHash, stateChange.Routes)
	if reason != "" {
		return []Event{&EventPaymentSentFailed{
			TokenNetworkAddress: stateChange.TokenNetworkAddress,
			ChannelID:           channel.Identifier,
			PaymentID:           stateChange.PaymentID,
			Target:              stateChange.Target,
			SecretHash:          stateChange.SecretHash,
			Reason:              reason,
		}}
	}

	chainState.Transfers[key] = &TransferState{
		Key:        key,
		ChannelKey: channelKey,
		ChannelID:  channel.Identifier,
		Transfer:   sendTransfer.Transfer,
	}
	if stateChange.Secret != nil {
		chainState.RegisterSecret(stateChange.Secret, 0)
	}
	return []Event{sendTransfer}
}

// HandleReceiveSecretRequest answers a target's request with the cached
// secret reveal. The reveal reuses the request's message id so repeated
// requests always produce the identical response.
func HandleReceiveSecretRequest(chainState *ChainState, stateChange *ReceiveSecretRequest) []Event {
	key := TransferKey{SecretHash: stateChange.SecretHash, Direction: DirectionSent}
	transferState := chainState.GetTransfer(key)
	if transferState == nil || transferState.IsTerminal() {
		return nil
	}
	transfer := transferState.Transfer
	lock := transfer.Lock

	if stateChange.Sender != transfer.Target {
		log.Debugf("secret request for %v from %v, expected target %v",
			stateChange.SecretHash, stateChange.Sender, transfer.Target)
		return nil
	}
	if stateChange.PaymentID != transfer.PaymentID {
		log.Debugf("secret request payment id mismatch, expected %d got %d",
			transfer.PaymentID, stateChange.PaymentID)
		return nil
	}
	if common.AmountOrZero(stateChange.Amount).Cmp(common.AmountOrZero(lock.Amount)) < 0 {
		log.Debugf("secret request amount %s below lock amount %s",
			stateChange.Amount, lock.Amount)
		return nil
	}
	if stateChange.Expiration > lock.Expiration || stateChange.Expiration <= chainState.BlockHeight {
		log.Debugf("secret request expiration %d outside lock window", stateChange.Expiration)
		return nil
	}

	registered := chainState.SecretRegistry[stateChange.SecretHash]
	if registered == nil {
		log.Warnf("secret for %v is not known, cannot reveal", stateChange.SecretHash)
		return nil
	}
	return []Event{&SendSecretReveal{
		SendMessageEvent: SendMessageEvent{
			Recipient: transfer.Target,
			ChannelID: transferState.ChannelID,
			MessageID: stateChange.MessageID,
		},
		Secret: registered.Secret,
	}}
}

// HandleReceiveSecretReveal schedules the unlock for a sent transfer once
// the recipient echoed the secret back.
func HandleReceiveSecretReveal(chainState *ChainState, stateChange *ReceiveSecretReveal) []Event {
	secretHash := common.GetSecretHash(stateChange.Secret)
	key := TransferKey{SecretHash: secretHash, Direction: DirectionSent}
	transferState := chainState.GetTransfer(key)
	if transferState == nil || transferState.IsTerminal() || transferState.Unlock != nil {
		return nil
	}
	channel := chainState.GetChannel(transferState.ChannelKey)
	if channel == nil {
		return nil
	}
	if stateChange.Sender != channel.PartnerState.Address {
		log.Debugf("secret reveal for %v from %v, expected recipient %v",
			secretHash, stateChange.Sender, channel.PartnerState.Address)
		return nil
	}

	transferState.Secret = stateChange.Secret
	chainState.RegisterSecret(stateChange.Secret, 0)
	RegisterOffChainSecret(channel, stateChange.Secret, secretHash)

	registeredOnChain := transferState.SecretRegisteredBlock != 0
	messageID := common.GetMsgID()
	unlock, reason := CreateUnlock(channel, messageID, transferState.Transfer.PaymentID,
		stateChange.Secret, secretHash, registeredOnChain, chainState.BlockHeight)
	if reason != "" {
		log.Warnf("cannot unlock %v: %s", secretHash, reason)
		return nil
	}
	transferState.Unlock = unlock.BalanceProof
	transferState.UnlockMessageID = messageID

	success := &EventPaymentSentSuccess{
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		PaymentID:           transferState.Transfer.PaymentID,
		Amount:              common.AmountOrZero(transferState.Transfer.Lock.Amount),
		Target:              transferState.Transfer.Target,
		SecretHash:          secretHash,
	}
	return []Event{unlock, success}
}

// HandleReceiveRefundTransfer fails the matching sent transfer.
func HandleReceiveRefundTransfer(chainState *ChainState, stateChange *ReceiveRefundTransfer) []Event {
	refund := stateChange.Transfer
	key := TransferKey{SecretHash: refund.Lock.SecretHash, Direction: DirectionSent}
	transferState := chainState.GetTransfer(key)
	if transferState == nil || transferState.IsTerminal() {
		return nil
	}
	sent := transferState.Transfer
	if refund.Initiator != sent.Initiator || refund.PaymentID != sent.PaymentID ||
		common.AmountOrZero(refund.Lock.Amount).Cmp(common.AmountOrZero(sent.Lock.Amount)) != 0 {
		log.Debugf("refund does not match sent transfer for %v", refund.Lock.SecretHash)
		return nil
	}
	channel := chainState.GetChannel(transferState.ChannelKey)
	if channel == nil {
		return nil
	}

	transferState.Refunded = true
	return []Event{
		&SendProcessed{
			SendMessageEvent: SendMessageEvent{
				Recipient: channel.PartnerState.Address,
				ChannelID: channel.Identifier,
				MessageID: stateChange.MessageID,
			},
		},
		paymentSentFailed(channel, transferState, "transfer was refunded"),
	}
}

// eventsForExpiredLock emits exactly one LockExpired per sent transfer once
// the expiration is confirmed past and nothing rescued the lock.
func eventsForExpiredLock(transferState *TransferState, channel *ChannelState,
	blockHeight common.BlockHeight, confirmBlocks common.BlockHeight) []Event {

	if transferState.Unlock != nil || transferState.LockExpired != nil ||
		transferState.SecretRegisteredBlock != 0 || transferState.ChannelClosed ||
		transferState.Refunded {
		return nil
	}
	lock := transferState.Transfer.Lock
	if blockHeight <= lock.Expiration+confirmBlocks {
		return nil
	}

	messageID := common.GetMsgID()
	expired, reason := CreateSendExpiredLock(channel, messageID, transferState.Key.SecretHash)
	if reason != "" {
		log.Warnf("cannot expire lock %v: %s", transferState.Key.SecretHash, reason)
		return nil
	}
	transferState.LockExpired = expired.BalanceProof
	transferState.ExpiredMessageID = messageID

	// failed is definitive here, the Processed handshake only finishes the
	// bookkeeping
	return []Event{expired, paymentSentFailed(channel, transferState,
		fmt.Sprintf("lock expired at block %d", lock.Expiration))}
}

// eventsForDangerZone registers a known secret on chain when the lock is
// about to expire and the off-chain unlock did not finish.
func eventsForDangerZone(chainState *ChainState, transferState *TransferState,
	channel *ChannelState, blockHeight common.BlockHeight) []Event {

	if transferState.RegisterRequested || transferState.SecretRegisteredBlock != 0 {
		return nil
	}
	registered := chainState.SecretRegistry[transferState.Key.SecretHash]
	if registered == nil {
		return nil
	}
	lock := transferState.Transfer.Lock
	dangerBlock := lock.Expiration - common.BlockHeight(channel.RevealTimeout)
	if blockHeight < dangerBlock || blockHeight >= lock.Expiration {
		return nil
	}

	transferState.RegisterRequested = true
	return []Event{&ContractSendSecretReveal{
		Secret:     registered.Secret,
		Expiration: lock.Expiration,
	}}
}
