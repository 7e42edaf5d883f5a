package rivulet

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/network"
	"github.com/rivulet-io/rivulet/service"
	"github.com/rivulet-io/rivulet/transfer"
)

var Version = "0.1"

type ChannelConfig struct {
	ChainID             common.ChainID
	TokenAddress        common.TokenAddress
	TokenNetworkAddress common.TokenNetworkAddress

	DBPath string

	// Zero means the compiled default.
	SettleTimeout common.BlockTimeout
	RevealTimeout common.BlockTimeout
}

// Channel is the top level handle of a payment channel node.
type Channel struct {
	Config  *ChannelConfig
	Service *service.ChannelService
}

func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		DBPath: ".",
	}
}

// NewChannel wires the chain client, the account and the channel service
// together. Start on the returned handle restores state and begins
// processing.
func NewChannel(config *ChannelConfig, account *common.Account,
	client network.ChainClient) (*Channel, error) {

	if account == nil {
		return nil, errors.New("account is required")
	}
	if client == nil {
		return nil, errors.New("chain client is required")
	}

	settleTimeout := config.SettleTimeout
	if settleTimeout == 0 {
		settleTimeout = common.Config.SettleTimeout
	}
	revealTimeout := config.RevealTimeout
	if revealTimeout == 0 {
		revealTimeout = common.Config.RevealTimeout
	}
	if settleTimeout < 2*revealTimeout {
		return nil, errors.Errorf(
			"settle timeout (%d) must be at least double the reveal timeout (%d)",
			settleTimeout, revealTimeout)
	}
	common.Config.SettleTimeout = settleTimeout
	common.Config.RevealTimeout = revealTimeout

	chain, err := network.NewBlockchainService(account.Address(), client)
	if err != nil {
		return nil, errors.Wrap(err, "create blockchain service")
	}

	channelService := service.NewChannelService(account, config.ChainID,
		config.TokenAddress, config.TokenNetworkAddress, chain,
		filepath.Join(config.DBPath, "channel.db"))
	log.Infof("channel service created for %s", common.ToHex(account.Address()))

	return &Channel{Config: config, Service: channelService}, nil
}

func (self *Channel) Start() error {
	return self.Service.Start()
}

func (self *Channel) Stop() {
	self.Service.Stop()
}

func (self *Channel) RegisterReceiveNotification(
	notification chan *transfer.EventPaymentReceivedSuccess) {

	self.Service.RegisterReceiveNotification(notification)
}
