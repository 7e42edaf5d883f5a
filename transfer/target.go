package transfer

import (
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
)

// Received transfer handling: accepting locked transfers, requesting and
// relaying secrets, and settling the received side on Unlock/LockExpired.

// HandleReceiveLockedTransfer validates and records an incoming transfer.
// An identical re-delivery re-emits the cached acknowledgment, everything
// else about the duplicate is dropped.
func HandleReceiveLockedTransfer(chainState *ChainState, stateChange *ReceiveLockedTransfer,
	receivingEnabled bool) []Event {

	transfer := stateChange.Transfer
	secretHash := transfer.Lock.SecretHash
	key := TransferKey{SecretHash: secretHash, Direction: DirectionReceived}

	channel := chainState.GetChannelByID(transfer.BalanceProof.ChannelID)
	if channel == nil {
		log.Debugf("locked transfer for unknown channel %d", transfer.BalanceProof.ChannelID)
		return nil
	}

	if existing := chainState.GetTransfer(key); existing != nil {
		if existing.Transfer.MessageID == stateChange.MessageID {
			return []Event{&SendProcessed{
				SendMessageEvent: SendMessageEvent{
					Recipient: channel.PartnerState.Address,
					ChannelID: channel.Identifier,
					MessageID: stateChange.MessageID,
				},
			}}
		}
		log.Debugf("conflicting locked transfer for secrethash %v dropped", secretHash)
		return nil
	}

	if transfer.Lock.Expiration <= chainState.BlockHeight+common.BlockHeight(channel.RevealTimeout) {
		log.Debugf("locked transfer for %v rejected, expiration %d leaves no safety margin",
			secretHash, transfer.Lock.Expiration)
		return nil
	}

	events, reason := ApplyLockedTransfer(channel, transfer, stateChange.MessageID)
	if reason != "" {
		log.Debugf("locked transfer for %v rejected: %s", secretHash, reason)
		return nil
	}

	chainState.Transfers[key] = &TransferState{
		Key:               key,
		ChannelKey:        channel.Key(),
		ChannelID:         channel.Identifier,
		Transfer:          transfer,
		TransferProcessed: true,
	}

	if receivingEnabled && transfer.Target == chainState.Address {
		events = append(events, &SendSecretRequest{
			SendMessageEvent: SendMessageEvent{
				Recipient: transfer.Initiator,
				ChannelID: channel.Identifier,
				MessageID: common.GetMsgID(),
			},
			PaymentID:  transfer.PaymentID,
			SecretHash: secretHash,
			Amount:     common.AmountOrZero(transfer.Lock.Amount),
			Expiration: transfer.Lock.Expiration,
		})
	}
	return events
}

// HandleReceiveSecretRevealTarget records the secret for a received
// transfer and echoes the reveal to the channel partner so they can unlock.
func HandleReceiveSecretRevealTarget(chainState *ChainState, stateChange *ReceiveSecretReveal) []Event {
	secretHash := common.GetSecretHash(stateChange.Secret)
	key := TransferKey{SecretHash: secretHash, Direction: DirectionReceived}
	transferState := chainState.GetTransfer(key)
	if transferState == nil || transferState.IsTerminal() {
		return nil
	}
	channel := chainState.GetChannel(transferState.ChannelKey)
	if channel == nil {
		return nil
	}
	if transferState.SecretRevealed {
		return nil
	}

	transferState.Secret = stateChange.Secret
	transferState.SecretRevealed = true
	chainState.RegisterSecret(stateChange.Secret, 0)
	RegisterOffChainSecret(channel, stateChange.Secret, secretHash)

	return []Event{&SendSecretReveal{
		SendMessageEvent: SendMessageEvent{
			Recipient: channel.PartnerState.Address,
			ChannelID: channel.Identifier,
			MessageID: common.GetMsgID(),
		},
		Secret: stateChange.Secret,
	}}
}

// HandleReceiveUnlock finishes a received transfer when the partner's
// Unlock arrives.
func HandleReceiveUnlock(chainState *ChainState, stateChange *ReceiveUnlock) []Event {
	secretHash := common.GetSecretHash(stateChange.Secret)
	key := TransferKey{SecretHash: secretHash, Direction: DirectionReceived}
	transferState := chainState.GetTransfer(key)
	if transferState == nil {
		return nil
	}
	channel := chainState.GetChannelByID(stateChange.BalanceProof.ChannelID)
	if channel == nil {
		return nil
	}

	events, reason := ApplyUnlock(channel, stateChange)
	if reason != "" {
		log.Debugf("unlock for %v rejected: %s", secretHash, reason)
		return nil
	}

	transferState.Secret = stateChange.Secret
	transferState.Unlock = stateChange.BalanceProof
	transferState.UnlockProcessed = true
	chainState.RegisterSecret(stateChange.Secret, 0)

	events = append(events, &EventPaymentReceivedSuccess{
		TokenNetworkAddress: channel.TokenNetworkAddress,
		ChannelID:           channel.Identifier,
		PaymentID:           stateChange.PaymentID,
		Amount:              common.AmountOrZero(transferState.Transfer.Lock.Amount),
		Initiator:           transferState.Transfer.Initiator,
		SecretHash:          secretHash,
	})
	return events
}

// HandleReceiveLockExpiredMsg drops the received transfer whose lock the
// partner expired.
func HandleReceiveLockExpiredMsg(chainState *ChainState, stateChange *ReceiveLockExpired,
	confirmBlocks common.BlockHeight) []Event {

	key := TransferKey{SecretHash: stateChange.SecretHash, Direction: DirectionReceived}
	transferState := chainState.GetTransfer(key)
	if transferState == nil {
		return nil
	}
	channel := chainState.GetChannelByID(stateChange.BalanceProof.ChannelID)
	if channel == nil {
		return nil
	}

	events, reason := ApplyLockExpired(channel, stateChange,
		chainState.BlockHeight, confirmBlocks)
	if reason != "" {
		log.Debugf("lock expired for %v rejected: %s", stateChange.SecretHash, reason)
		return nil
	}

	transferState.LockExpired = stateChange.BalanceProof
	transferState.ExpiredProcessed = true
	return events
}

// HandleContractSecretReveal records an on-chain secret registration for
// every transfer and channel holding the lock.
func HandleContractSecretReveal(chainState *ChainState, stateChange *ContractReceiveSecretReveal) []Event {
	chainState.RegisterSecret(stateChange.Secret, stateChange.BlockHeight)

	for _, direction := range []string{DirectionSent, DirectionReceived} {
		key := TransferKey{SecretHash: stateChange.SecretHash, Direction: direction}
		transferState := chainState.GetTransfer(key)
		if transferState == nil || transferState.SecretRegisteredBlock != 0 {
			continue
		}
		transferState.SecretRegisteredBlock = stateChange.BlockHeight
		transferState.Secret = stateChange.Secret
		if channel := chainState.GetChannel(transferState.ChannelKey); channel != nil {
			RegisterOnChainSecret(channel, stateChange.Secret, stateChange.SecretHash)
		}
	}
	return nil
}
