package transfer

import (
	"github.com/rivulet-io/rivulet/common"
)

// Read side helpers over a chain state snapshot.

func GetBlockHeight(chainState *ChainState) common.BlockHeight {
	return chainState.BlockHeight
}

func GetChannelStateFor(chainState *ChainState, tokenNetworkAddress common.TokenNetworkAddress,
	partnerAddress common.Address) *ChannelState {

	return chainState.GetChannel(ChannelKey{
		TokenNetworkAddress: tokenNetworkAddress,
		PartnerAddress:      partnerAddress,
	})
}

func GetChannelStateByID(chainState *ChainState, channelID common.ChannelID) *ChannelState {
	return chainState.GetChannelByID(channelID)
}

func ListChannelStates(chainState *ChainState) []*ChannelState {
	result := make([]*ChannelState, 0, len(chainState.Channels))
	for _, channel := range chainState.Channels {
		result = append(result, channel)
	}
	return result
}

// GetNeighbours lists every partner we share a channel with.
func GetNeighbours(chainState *ChainState) []common.Address {
	seen := make(map[common.Address]bool)
	var result []common.Address
	for key := range chainState.Channels {
		if !seen[key.PartnerAddress] {
			seen[key.PartnerAddress] = true
			result = append(result, key.PartnerAddress)
		}
	}
	return result
}

// GetDistributableFor is the amount we can still send to the partner.
func GetDistributableFor(chainState *ChainState, tokenNetworkAddress common.TokenNetworkAddress,
	partnerAddress common.Address) common.TokenAmount {

	channel := GetChannelStateFor(chainState, tokenNetworkAddress, partnerAddress)
	if channel == nil {
		return nil
	}
	return GetDistributable(channel.OurState, channel.PartnerState, channel.OurPendingWithdraw)
}

func GetTransferState(chainState *ChainState, secretHash common.SecretHash,
	direction string) *TransferState {

	return chainState.GetTransfer(TransferKey{SecretHash: secretHash, Direction: direction})
}

// GetTransferStatus returns the derived status, empty when unknown.
func GetTransferStatus(chainState *ChainState, secretHash common.SecretHash, direction string) string {
	transferState := GetTransferState(chainState, secretHash, direction)
	if transferState == nil {
		return ""
	}
	return transferState.Status()
}

// GetQueueIDsToQueues snapshots the queued outbound events per queue.
func GetQueueIDsToQueues(chainState *ChainState) map[QueueIdentifier]EventList {
	result := make(map[QueueIdentifier]EventList, len(chainState.QueueIdsToQueues))
	for queueID, queue := range chainState.QueueIdsToQueues {
		result[queueID] = append(EventList{}, queue...)
	}
	return result
}

// GetPendingTxns snapshots the unconfirmed on-chain submissions.
func GetPendingTxns(chainState *ChainState) EventList {
	return append(EventList{}, chainState.PendingTxns...)
}
