package service

import (
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/transfer"
)

// Chain events arrive as generic maps from the blockchain filter. Each
// handler pulls out the typed fields and turns them into the matching
// ContractReceive state change.

func (self *ChannelService) OnBlockchainEvent(eventName string, event map[string]interface{}) {
	log.Debugf("chain event %s", eventName)
	switch eventName {
	case "chanOpened":
		self.handleChannelNew(event)
	case "chanClosed":
		self.handleChannelClose(event)
	case "chanSettled":
		self.handleChannelSettled(event)
	case "setTotalDeposit":
		self.handleChannelNewBalance(event)
	case "withdraw":
		self.handleChannelWithdraw(event)
	case "secretRevealed":
		self.handleSecretRevealed(event)
	default:
		log.Warnf("unknown chain event %s dropped", eventName)
	}
}

func (self *ChannelService) handleChannelNew(event map[string]interface{}) {
	participant1 := event["participant1"].(common.Address)
	participant2 := event["participant2"].(common.Address)
	channelID := event["channelID"].(common.ChannelID)
	settleTimeout := event["settleTimeout"].(common.BlockTimeout)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	if !common.AddressEqual(self.address, participant1) &&
		!common.AddressEqual(self.address, participant2) {
		return
	}

	self.HandleStateChange(&transfer.ContractReceiveChannelNew{
		ChannelID:           channelID,
		TokenAddress:        self.tokenAddress,
		TokenNetworkAddress: self.tokenNetworkAddress,
		Participant1:        participant1,
		Participant2:        participant2,
		SettleTimeout:       settleTimeout,
		BlockHeight:         blockHeight,
	})
}

func (self *ChannelService) handleChannelClose(event map[string]interface{}) {
	channelID := event["channelID"].(common.ChannelID)
	closingParticipant := event["closingParticipant"].(common.Address)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	if !self.knownChannel(channelID) {
		return
	}

	self.HandleStateChange(&transfer.ContractReceiveChannelClosed{
		ChannelID:       channelID,
		TransactionFrom: closingParticipant,
		BlockHeight:     blockHeight,
	})
}

func (self *ChannelService) handleChannelSettled(event map[string]interface{}) {
	channelID := event["channelID"].(common.ChannelID)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	if !self.knownChannel(channelID) {
		return
	}

	self.HandleStateChange(&transfer.ContractReceiveChannelSettled{
		ChannelID:   channelID,
		BlockHeight: blockHeight,
	})
}

func (self *ChannelService) handleChannelNewBalance(event map[string]interface{}) {
	channelID := event["channelID"].(common.ChannelID)
	participant := event["participant"].(common.Address)
	totalDeposit := event["totalDeposit"].(common.TokenAmount)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	if !self.knownChannel(channelID) {
		return
	}

	self.HandleStateChange(&transfer.ContractReceiveChannelDeposit{
		ChannelID:    channelID,
		Participant:  participant,
		TotalDeposit: totalDeposit,
		BlockHeight:  blockHeight,
	})
}

func (self *ChannelService) handleChannelWithdraw(event map[string]interface{}) {
	channelID := event["channelID"].(common.ChannelID)
	participant := event["participant"].(common.Address)
	totalWithdraw := event["totalWithdraw"].(common.TokenAmount)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	if !self.knownChannel(channelID) {
		return
	}

	self.HandleStateChange(&transfer.ContractReceiveChannelWithdraw{
		ChannelID:     channelID,
		Participant:   participant,
		TotalWithdraw: totalWithdraw,
		BlockHeight:   blockHeight,
	})
}

func (self *ChannelService) handleSecretRevealed(event map[string]interface{}) {
	secret := event["secret"].(common.Secret)
	blockHeight := event["blockHeight"].(common.BlockHeight)

	self.HandleStateChange(&transfer.ContractReceiveSecretReveal{
		SecretHash:  common.GetSecretHash(secret),
		Secret:      secret,
		BlockHeight: blockHeight,
	})
}

func (self *ChannelService) knownChannel(channelID common.ChannelID) bool {
	state := self.StateFromChannel()
	if state == nil {
		return false
	}
	return transfer.GetChannelStateByID(state, channelID) != nil
}
