package transfer

import (
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
)

// SendEvent is implemented by every outbound message event through the
// embedded SendMessageEvent.
type SendEvent interface {
	Event
	QueueIdentifier() QueueIdentifier
	MessageIdentifier() common.MessageID
}

// StateTransition is the single transition function for the whole chain
// state. It routes each state change to the owning submachine and keeps the
// outbound message queues in sync with the emitted events.
func StateTransition(state State, stateChange StateChange) *TransitionResult {
	if init, ok := stateChange.(*ActionInitNode); ok {
		chainState := NewChainState(init.Address, init.ChainID)
		chainState.BlockHeight = init.BlockHeight
		return &TransitionResult{NewState: chainState}
	}

	chainState, ok := state.(*ChainState)
	if !ok || chainState == nil {
		log.Errorf("state transition on invalid state %T", state)
		return &TransitionResult{NewState: state}
	}

	confirmBlocks := common.Config.ConfirmBlockCount
	var events []Event

	switch change := stateChange.(type) {
	case *Block:
		events = handleBlock(chainState, change, confirmBlocks)
	case *ActionChannelOpen:
		events = handleActionChannelOpen(chainState, change)
	case *ActionChannelOpenFailed:
		handleActionChannelOpenFailed(chainState, change)
	case *ActionChannelClose:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ActionChannelSettle:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ActionWithdraw:
		events = handleActionWithdrawNode(chainState, change)
	case *ActionTransferInit:
		events = HandleActionTransferInit(chainState, change)
	case *ReceiveLockedTransfer:
		events = HandleReceiveLockedTransfer(chainState, change, common.Config.ReceivingEnabled)
	case *ReceiveRefundTransfer:
		events = HandleReceiveRefundTransfer(chainState, change)
	case *ReceiveSecretRequest:
		events = HandleReceiveSecretRequest(chainState, change)
	case *ReceiveSecretReveal:
		events = append(events, HandleReceiveSecretReveal(chainState, change)...)
		events = append(events, HandleReceiveSecretRevealTarget(chainState, change)...)
	case *ReceiveUnlock:
		events = HandleReceiveUnlock(chainState, change)
	case *ReceiveLockExpired:
		events = HandleReceiveLockExpiredMsg(chainState, change, confirmBlocks)
	case *ReceiveProcessed:
		events = handleProcessed(chainState, change)
	case *ReceiveDelivered:
		removeFromQueues(chainState, change.Sender, change.MessageID)
	case *ReceiveWithdrawRequest:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ReceiveWithdrawConfirmation:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
			removeFromQueues(chainState, channel.PartnerState.Address, change.MessageID)
		}
	case *ReceiveWithdrawExpired:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ContractReceiveChannelNew:
		events = handleContractChannelNew(chainState, change)
	case *ContractReceiveChannelClosed:
		events = handleContractChannelClosed(chainState, change, confirmBlocks)
	case *ContractReceiveChannelSettled:
		events = handleContractChannelSettled(chainState, change, confirmBlocks)
	case *ContractReceiveChannelDeposit:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ContractReceiveChannelWithdraw:
		if channel := chainState.GetChannelByID(change.ChannelID); channel != nil {
			events = StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)
		}
	case *ContractReceiveSecretReveal:
		events = HandleContractSecretReveal(chainState, change)
	default:
		log.Warnf("unhandled state change %T", stateChange)
	}

	enqueueSendEvents(chainState, events)
	trackPendingTxns(chainState, stateChange, events)

	return &TransitionResult{NewState: chainState, Events: events}
}

func handleBlock(chainState *ChainState, change *Block, confirmBlocks common.BlockHeight) []Event {
	if change.BlockHeight <= chainState.BlockHeight {
		return nil
	}
	chainState.BlockHeight = change.BlockHeight

	var events []Event
	for _, channel := range chainState.Channels {
		events = append(events, StateTransitionForChannel(channel, change,
			change.BlockHeight, confirmBlocks)...)
	}

	for key, transferState := range chainState.Transfers {
		if transferState.IsTerminal() {
			events = append(events, sweepTransfer(chainState, key, transferState)...)
			continue
		}
		if key.Direction != DirectionSent {
			continue
		}
		channel := chainState.GetChannel(transferState.ChannelKey)
		if channel == nil {
			continue
		}
		events = append(events, eventsForDangerZone(chainState, transferState,
			channel, change.BlockHeight)...)
		if channel.GetStatus() == ChannelStateOpen {
			events = append(events, eventsForExpiredLock(transferState, channel,
				change.BlockHeight, confirmBlocks)...)
		}
	}
	return events
}

// sweepTransfer clears a finished transfer once its outbound messages are
// acknowledged and a cooldown passed. The durable record stays in storage.
func sweepTransfer(chainState *ChainState, key TransferKey, transferState *TransferState) []Event {
	if transferState.ClearedBlock == 0 {
		if !transferHasQueuedMessages(chainState, transferState) {
			transferState.ClearedBlock = chainState.BlockHeight
		}
		return nil
	}
	cooldown := common.BlockHeight(common.Config.RevealTimeout)
	if chainState.BlockHeight > transferState.ClearedBlock+cooldown {
		delete(chainState.Transfers, key)
	}
	return nil
}

func transferHasQueuedMessages(chainState *ChainState, transferState *TransferState) bool {
	ids := map[common.MessageID]bool{}
	if transferState.Transfer != nil {
		ids[transferState.Transfer.MessageID] = true
	}
	if transferState.UnlockMessageID != 0 {
		ids[transferState.UnlockMessageID] = true
	}
	if transferState.ExpiredMessageID != 0 {
		ids[transferState.ExpiredMessageID] = true
	}
	for _, queue := range chainState.QueueIdsToQueues {
		for _, event := range queue {
			if send, ok := event.(SendEvent); ok && ids[send.MessageIdentifier()] {
				return true
			}
		}
	}
	return false
}

func handleActionChannelOpen(chainState *ChainState, change *ActionChannelOpen) []Event {
	key := ChannelKey{
		TokenNetworkAddress: change.TokenNetworkAddress,
		PartnerAddress:      change.PartnerAddress,
	}
	if chainState.GetChannel(key) != nil {
		log.Debugf("channel with %v already exists", change.PartnerAddress)
		return nil
	}
	channel := &ChannelState{
		ChainID:             chainState.ChainID,
		TokenAddress:        change.TokenAddress,
		TokenNetworkAddress: change.TokenNetworkAddress,
		RevealTimeout:       change.RevealTimeout,
		SettleTimeout:       change.SettleTimeout,
		OurState:            NewChannelEndState(chainState.Address, nil),
		PartnerState:        NewChannelEndState(change.PartnerAddress, nil),
		OpenTransaction: &TransactionExecutionStatus{
			StartedBlockHeight: chainState.BlockHeight,
		},
	}
	chainState.Channels[key] = channel
	return nil
}

func handleActionChannelOpenFailed(chainState *ChainState, change *ActionChannelOpenFailed) {
	key := ChannelKey{
		TokenNetworkAddress: change.TokenNetworkAddress,
		PartnerAddress:      change.PartnerAddress,
	}
	channel := chainState.GetChannel(key)
	if channel != nil && channel.GetStatus() == ChannelStateOpening {
		delete(chainState.Channels, key)
	}
}

func handleActionWithdrawNode(chainState *ChainState, change *ActionWithdraw) []Event {
	key := ChannelKey{
		TokenNetworkAddress: change.TokenNetworkAddress,
		PartnerAddress:      change.PartnerAddress,
	}
	channel := chainState.GetChannel(key)
	if channel == nil {
		return []Event{&EventWithdrawFailed{
			Participant:   chainState.Address,
			TotalWithdraw: common.AmountOrZero(change.TotalWithdraw),
			Reason:        "no channel with partner",
		}}
	}
	events, reason := HandleActionWithdraw(channel, change.TotalWithdraw,
		chainState.BlockHeight, channel.RevealTimeout, common.GetMsgID())
	if reason != "" {
		return []Event{&EventWithdrawFailed{
			ChannelID:     channel.Identifier,
			Participant:   chainState.Address,
			TotalWithdraw: common.AmountOrZero(change.TotalWithdraw),
			Reason:        reason,
		}}
	}
	return events
}

func handleContractChannelNew(chainState *ChainState, change *ContractReceiveChannelNew) []Event {
	partner := change.Participant1
	if partner == chainState.Address {
		partner = change.Participant2
	}
	if change.Participant1 != chainState.Address && change.Participant2 != chainState.Address {
		return nil
	}
	key := ChannelKey{
		TokenNetworkAddress: change.TokenNetworkAddress,
		PartnerAddress:      partner,
	}

	channel := chainState.GetChannel(key)
	if channel == nil {
		// partner opened the channel towards us
		channel = &ChannelState{
			ChainID:             chainState.ChainID,
			TokenAddress:        change.TokenAddress,
			TokenNetworkAddress: change.TokenNetworkAddress,
			RevealTimeout:       common.Config.RevealTimeout,
			SettleTimeout:       change.SettleTimeout,
			OurState:            NewChannelEndState(chainState.Address, nil),
			PartnerState:        NewChannelEndState(partner, nil),
		}
		chainState.Channels[key] = channel
	}

	channel.Identifier = change.ChannelID
	if channel.SettleTimeout == 0 {
		channel.SettleTimeout = change.SettleTimeout
	}
	channel.OpenTransaction = &TransactionExecutionStatus{
		FinishedBlockHeight: change.BlockHeight,
		Result:              TxnExecSucceeded,
	}
	chainState.ChannelsByID[change.ChannelID] = key

	return []Event{&EventChannelOpened{
		ChannelID:           change.ChannelID,
		TokenAddress:        change.TokenAddress,
		TokenNetworkAddress: change.TokenNetworkAddress,
		Partner:             partner,
	}}
}

// handleContractChannelClosed finishes the channel close and fails every
// transfer in it whose secret neither unlocked nor registered on chain.
func handleContractChannelClosed(chainState *ChainState, change *ContractReceiveChannelClosed,
	confirmBlocks common.BlockHeight) []Event {

	channel := chainState.GetChannelByID(change.ChannelID)
	if channel == nil {
		return nil
	}
	events := StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)

	channelKey := channel.Key()
	for _, transferState := range chainState.Transfers {
		if transferState.ChannelKey != channelKey || transferState.IsTerminal() {
			continue
		}
		if transferState.Unlock != nil || transferState.SecretRegisteredBlock != 0 {
			continue
		}
		transferState.ChannelClosed = true
		if transferState.Key.Direction == DirectionSent {
			events = append(events, paymentSentFailed(channel, transferState,
				"channel closed before the secret was revealed"))
		}
	}
	return events
}

func handleContractChannelSettled(chainState *ChainState, change *ContractReceiveChannelSettled,
	confirmBlocks common.BlockHeight) []Event {

	channel := chainState.GetChannelByID(change.ChannelID)
	if channel == nil {
		return nil
	}
	events := StateTransitionForChannel(channel, change, chainState.BlockHeight, confirmBlocks)

	key := channel.Key()
	delete(chainState.Channels, key)
	delete(chainState.ChannelsByID, change.ChannelID)
	for queueID := range chainState.QueueIdsToQueues {
		if queueID.ChannelID == change.ChannelID {
			delete(chainState.QueueIdsToQueues, queueID)
		}
	}
	return events
}

func handleProcessed(chainState *ChainState, change *ReceiveProcessed) []Event {
	removeFromQueues(chainState, change.Sender, change.MessageID)

	for _, transferState := range chainState.Transfers {
		switch change.MessageID {
		case transferState.Transfer.MessageID:
			if transferState.Key.Direction == DirectionSent {
				transferState.TransferProcessed = true
			}
		case transferState.UnlockMessageID:
			if transferState.UnlockMessageID != 0 {
				transferState.UnlockProcessed = true
			}
		case transferState.ExpiredMessageID:
			if transferState.ExpiredMessageID != 0 {
				transferState.ExpiredProcessed = true
			}
		}
	}
	return nil
}

// enqueueSendEvents records outbound messages so retries survive a restart.
// A message id already queued is not queued twice.
func enqueueSendEvents(chainState *ChainState, events []Event) {
	for _, event := range events {
		send, ok := event.(SendEvent)
		if !ok {
			continue
		}
		queueID := send.QueueIdentifier()
		queue := chainState.QueueIdsToQueues[queueID]
		duplicate := false
		for _, queued := range queue {
			if queuedSend, ok := queued.(SendEvent); ok &&
				queuedSend.MessageIdentifier() == send.MessageIdentifier() {
				duplicate = true
				break
			}
		}
		if !duplicate {
			chainState.QueueIdsToQueues[queueID] = append(queue, event)
		}
	}
}

func removeFromQueues(chainState *ChainState, sender common.Address, messageID common.MessageID) {
	for queueID, queue := range chainState.QueueIdsToQueues {
		if queueID.Recipient != sender {
			continue
		}
		filtered := queue[:0]
		for _, event := range queue {
			send, ok := event.(SendEvent)
			if ok && send.MessageIdentifier() == messageID {
				continue
			}
			filtered = append(filtered, event)
		}
		if len(filtered) == 0 {
			delete(chainState.QueueIdsToQueues, queueID)
		} else {
			chainState.QueueIdsToQueues[queueID] = filtered
		}
	}
}

// trackPendingTxns keeps the not yet confirmed on-chain submissions so they
// can be re-submitted after a restart.
func trackPendingTxns(chainState *ChainState, stateChange StateChange, events []Event) {
	for _, event := range events {
		switch event.(type) {
		case *ContractSendChannelClose, *ContractSendChannelSettle,
			*ContractSendChannelWithdraw, *ContractSendSecretReveal:
			chainState.PendingTxns = append(chainState.PendingTxns, event)
		}
	}

	switch change := stateChange.(type) {
	case *ContractReceiveChannelClosed:
		dropPendingTxn(chainState, func(event Event) bool {
			txn, ok := event.(*ContractSendChannelClose)
			return ok && txn.ChannelID == change.ChannelID
		})
	case *ContractReceiveChannelSettled:
		dropPendingTxn(chainState, func(event Event) bool {
			txn, ok := event.(*ContractSendChannelSettle)
			return ok && txn.ChannelID == change.ChannelID
		})
	case *ContractReceiveChannelWithdraw:
		dropPendingTxn(chainState, func(event Event) bool {
			txn, ok := event.(*ContractSendChannelWithdraw)
			return ok && txn.ChannelID == change.ChannelID
		})
	case *ContractReceiveSecretReveal:
		dropPendingTxn(chainState, func(event Event) bool {
			txn, ok := event.(*ContractSendSecretReveal)
			return ok && common.GetSecretHash(txn.Secret) == change.SecretHash
		})
	}
}

func dropPendingTxn(chainState *ChainState, match func(Event) bool) {
	filtered := chainState.PendingTxns[:0]
	for _, event := range chainState.PendingTxns {
		if !match(event) {
			filtered = append(filtered, event)
		}
	}
	chainState.PendingTxns = filtered
}
