package network

import (
	"github.com/pkg/errors"
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
)

// CloseChannelParams carries the partner's latest balance proof for the
// on-chain close.
type CloseChannelParams struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Partner             common.Address
	BalanceHash         common.BalanceHash
	Nonce               common.Nonce
	AdditionalHash      common.AdditionalHash
	Signature           common.Signature
}

type WithdrawParams struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Expiration          common.BlockHeight
	ParticipantSig      common.Signature
	PartnerSig          common.Signature
}

// ChainClient submits transactions and reports the confirmed block height.
// Authoritative state changes only come back later as confirmed events
// through the chain event handler, a successful submission proves nothing.
type ChainClient interface {
	BlockHeight() (common.BlockHeight, error)
	OpenChannel(tokenNetwork common.TokenNetworkAddress, partner common.Address,
		settleTimeout common.BlockTimeout) (common.TransactionHash, error)
	SetTotalDeposit(tokenNetwork common.TokenNetworkAddress, channelID common.ChannelID,
		partner common.Address, totalDeposit common.TokenAmount) (common.TransactionHash, error)
	CloseChannel(params *CloseChannelParams) (common.TransactionHash, error)
	SettleChannel(tokenNetwork common.TokenNetworkAddress,
		channelID common.ChannelID) (common.TransactionHash, error)
	Withdraw(params *WithdrawParams) (common.TransactionHash, error)
	RegisterSecret(secret common.Secret) (common.TransactionHash, error)
}

// BlockchainService wraps a ChainClient with logging and error context.
type BlockchainService struct {
	Address common.Address
	client  ChainClient
}

func NewBlockchainService(address common.Address, client ChainClient) (*BlockchainService, error) {
	if client == nil {
		return nil, errors.New("chain client is required")
	}
	return &BlockchainService{Address: address, client: client}, nil
}

func (self *BlockchainService) Client() ChainClient {
	return self.client
}

func (self *BlockchainService) BlockHeight() (common.BlockHeight, error) {
	height, err := self.client.BlockHeight()
	if err != nil {
		return 0, errors.Wrap(err, "query block height")
	}
	return height, nil
}

func (self *BlockchainService) OpenChannel(tokenNetwork common.TokenNetworkAddress,
	partner common.Address, settleTimeout common.BlockTimeout) (common.TransactionHash, error) {

	hash, err := self.client.OpenChannel(tokenNetwork, partner, settleTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "open channel with %v", partner)
	}
	log.Infof("openChannel submitted, partner %v txn %x", partner, hash)
	return hash, nil
}

func (self *BlockchainService) SetTotalDeposit(tokenNetwork common.TokenNetworkAddress,
	channelID common.ChannelID, partner common.Address,
	totalDeposit common.TokenAmount) (common.TransactionHash, error) {

	hash, err := self.client.SetTotalDeposit(tokenNetwork, channelID, partner, totalDeposit)
	if err != nil {
		return nil, errors.Wrapf(err, "deposit to channel %d", channelID)
	}
	log.Infof("setTotalDeposit submitted, channel %d total %s txn %x", channelID, totalDeposit, hash)
	return hash, nil
}

func (self *BlockchainService) CloseChannel(params *CloseChannelParams) (common.TransactionHash, error) {
	hash, err := self.client.CloseChannel(params)
	if err != nil {
		return nil, errors.Wrapf(err, "close channel %d", params.ChannelID)
	}
	log.Infof("closeChannel submitted, channel %d txn %x", params.ChannelID, hash)
	return hash, nil
}

func (self *BlockchainService) SettleChannel(tokenNetwork common.TokenNetworkAddress,
	channelID common.ChannelID) (common.TransactionHash, error) {

	hash, err := self.client.SettleChannel(tokenNetwork, channelID)
	if err != nil {
		return nil, errors.Wrapf(err, "settle channel %d", channelID)
	}
	log.Infof("settleChannel submitted, channel %d txn %x", channelID, hash)
	return hash, nil
}

func (self *BlockchainService) Withdraw(params *WithdrawParams) (common.TransactionHash, error) {
	hash, err := self.client.Withdraw(params)
	if err != nil {
		return nil, errors.Wrapf(err, "withdraw from channel %d", params.ChannelID)
	}
	log.Infof("withdraw submitted, channel %d total %s txn %x",
		params.ChannelID, params.TotalWithdraw, hash)
	return hash, nil
}

func (self *BlockchainService) RegisterSecret(secret common.Secret) (common.TransactionHash, error) {
	hash, err := self.client.RegisterSecret(secret)
	if err != nil {
		return nil, errors.Wrap(err, "register secret")
	}
	log.Infof("registerSecret submitted, txn %x", hash)
	return hash, nil
}
