package transfer

import (
	"github.com/rivulet-io/rivulet/common"
)

// ActionInitNode creates the chain state on first start. It is always the
// first entry of the write-ahead log.
type ActionInitNode struct {
	Address     common.Address
	ChainID     common.ChainID
	BlockHeight common.BlockHeight
}

// Block is the periodic chain tick, it drives every block-height based
// transition.
type Block struct {
	BlockHeight common.BlockHeight
}

// ActionChannelOpen records a submitted openChannel transaction. The
// channel stays in the opening state until the confirmed event arrives.
type ActionChannelOpen struct {
	TokenAddress        common.TokenAddress
	TokenNetworkAddress common.TokenNetworkAddress
	PartnerAddress      common.Address
	SettleTimeout       common.BlockTimeout
	RevealTimeout       common.BlockTimeout
}

// ActionChannelOpenFailed removes a channel whose open transaction failed.
type ActionChannelOpenFailed struct {
	TokenNetworkAddress common.TokenNetworkAddress
	PartnerAddress      common.Address
}

type ActionChannelClose struct {
	ChannelID common.ChannelID
}

type ActionChannelSettle struct {
	ChannelID common.ChannelID
}

// ActionWithdraw starts the cooperative withdraw handshake on our side.
type ActionWithdraw struct {
	TokenNetworkAddress common.TokenNetworkAddress
	PartnerAddress      common.Address
	TotalWithdraw       common.TokenAmount
}

// ActionTransferInit composes and sends a LockedTransfer. Expiration zero
// means the default of two reveal timeouts past the current block.
type ActionTransferInit struct {
	TokenNetworkAddress common.TokenNetworkAddress
	PartnerAddress      common.Address
	Target              common.Address
	PaymentID           common.PaymentID
	Amount              common.TokenAmount
	Secret              common.Secret
	SecretHash          common.SecretHash
	Expiration          common.BlockHeight
	Routes              []RouteState
}

type ReceiveLockedTransfer struct {
	MessageID common.MessageID
	Transfer  *LockedTransferSignedState
}

type ReceiveRefundTransfer struct {
	MessageID common.MessageID
	Transfer  *LockedTransferSignedState
}

type ReceiveSecretRequest struct {
	Sender     common.Address
	MessageID  common.MessageID
	PaymentID  common.PaymentID
	SecretHash common.SecretHash
	Amount     common.TokenAmount
	Expiration common.BlockHeight
}

type ReceiveSecretReveal struct {
	Sender    common.Address
	MessageID common.MessageID
	Secret    common.Secret
}

type ReceiveUnlock struct {
	MessageID    common.MessageID
	PaymentID    common.PaymentID
	Secret       common.Secret
	BalanceProof *BalanceProofSignedState
}

type ReceiveLockExpired struct {
	MessageID    common.MessageID
	SecretHash   common.SecretHash
	BalanceProof *BalanceProofSignedState
}

type ReceiveProcessed struct {
	Sender    common.Address
	MessageID common.MessageID
}

type ReceiveDelivered struct {
	Sender    common.Address
	MessageID common.MessageID
}

type ReceiveWithdrawRequest struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	MessageID           common.MessageID
	Signature           common.Signature
}

type ReceiveWithdrawConfirmation struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	MessageID           common.MessageID
	Signature           common.Signature
}

type ReceiveWithdrawExpired struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	MessageID           common.MessageID
}

// ContractReceiveChannelNew is the confirmed openChannel event, it assigns
// the on-chain channel id.
type ContractReceiveChannelNew struct {
	ChannelID           common.ChannelID
	TokenAddress        common.TokenAddress
	TokenNetworkAddress common.TokenNetworkAddress
	Participant1        common.Address
	Participant2        common.Address
	SettleTimeout       common.BlockTimeout
	BlockHeight         common.BlockHeight
}

type ContractReceiveChannelClosed struct {
	ChannelID       common.ChannelID
	TransactionFrom common.Address
	BlockHeight     common.BlockHeight
}

type ContractReceiveChannelSettled struct {
	ChannelID   common.ChannelID
	BlockHeight common.BlockHeight
}

type ContractReceiveChannelDeposit struct {
	ChannelID    common.ChannelID
	Participant  common.Address
	TotalDeposit common.TokenAmount
	BlockHeight  common.BlockHeight
}

type ContractReceiveChannelWithdraw struct {
	ChannelID     common.ChannelID
	Participant   common.Address
	TotalWithdraw common.TokenAmount
	BlockHeight   common.BlockHeight
}

// ContractReceiveSecretReveal is the confirmed on-chain secret
// registration.
type ContractReceiveSecretReveal struct {
	SecretHash  common.SecretHash
	Secret      common.Secret
	BlockHeight common.BlockHeight
}

func (self *ActionInitNode) StateChangeInterface()                 {}
func (self *Block) StateChangeInterface()                          {}
func (self *ActionChannelOpen) StateChangeInterface()              {}
func (self *ActionChannelOpenFailed) StateChangeInterface()        {}
func (self *ActionChannelClose) StateChangeInterface()             {}
func (self *ActionChannelSettle) StateChangeInterface()            {}
func (self *ActionWithdraw) StateChangeInterface()                 {}
func (self *ActionTransferInit) StateChangeInterface()             {}
func (self *ReceiveLockedTransfer) StateChangeInterface()          {}
func (self *ReceiveRefundTransfer) StateChangeInterface()          {}
func (self *ReceiveSecretRequest) StateChangeInterface()           {}
func (self *ReceiveSecretReveal) StateChangeInterface()            {}
func (self *ReceiveUnlock) StateChangeInterface()                  {}
func (self *ReceiveLockExpired) StateChangeInterface()             {}
func (self *ReceiveProcessed) StateChangeInterface()               {}
func (self *ReceiveDelivered) StateChangeInterface()               {}
func (self *ReceiveWithdrawRequest) StateChangeInterface()         {}
func (self *ReceiveWithdrawConfirmation) StateChangeInterface()    {}
func (self *ReceiveWithdrawExpired) StateChangeInterface()         {}
func (self *ContractReceiveChannelNew) StateChangeInterface()      {}
func (self *ContractReceiveChannelClosed) StateChangeInterface()   {}
func (self *ContractReceiveChannelSettled) StateChangeInterface()  {}
func (self *ContractReceiveChannelDeposit) StateChangeInterface()  {}
func (self *ContractReceiveChannelWithdraw) StateChangeInterface() {}
func (self *ContractReceiveSecretReveal) StateChangeInterface()    {}
