package transfer

import (
	"github.com/rivulet-io/rivulet/common"
)

// SendMessageEvent is embedded by every outbound protocol message event.
// The message id keys the retry loop, the recipient and channel id key the
// queue.
type SendMessageEvent struct {
	Recipient common.Address
	ChannelID common.ChannelID
	MessageID common.MessageID
}

func (self *SendMessageEvent) QueueIdentifier() QueueIdentifier {
	return QueueIdentifier{
		Recipient: self.Recipient,
		ChannelID: self.ChannelID,
	}
}

func (self *SendMessageEvent) MessageIdentifier() common.MessageID {
	return self.MessageID
}

type SendLockedTransfer struct {
	SendMessageEvent
	Transfer *LockedTransferSignedState
}

type SendProcessed struct {
	SendMessageEvent
}

type SendSecretRequest struct {
	SendMessageEvent
	PaymentID  common.PaymentID
	SecretHash common.SecretHash
	Amount     common.TokenAmount
	Expiration common.BlockHeight
}

type SendSecretReveal struct {
	SendMessageEvent
	Secret common.Secret
}

// SendBalanceProof is the off-chain Unlock, it moves the lock amount into
// the transferred amount.
type SendBalanceProof struct {
	SendMessageEvent
	PaymentID    common.PaymentID
	TokenAddress common.TokenAddress
	Secret       common.Secret
	BalanceProof *BalanceProofSignedState
}

type SendLockExpired struct {
	SendMessageEvent
	SecretHash   common.SecretHash
	BalanceProof *BalanceProofSignedState
}

type SendWithdrawRequest struct {
	SendMessageEvent
	ChainID             common.ChainID
	TokenNetworkAddress common.TokenNetworkAddress
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
}

type SendWithdrawConfirmation struct {
	SendMessageEvent
	ChainID             common.ChainID
	TokenNetworkAddress common.TokenNetworkAddress
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
}

type SendWithdrawExpired struct {
	SendMessageEvent
	ChainID             common.ChainID
	TokenNetworkAddress common.TokenNetworkAddress
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
}

// ContractSendChannelClose submits closeChannel with the partner's latest
// balance proof.
type ContractSendChannelClose struct {
	ChannelID           common.ChannelID
	TokenNetworkAddress common.TokenNetworkAddress
	BalanceProof        *BalanceProofSignedState
}

type ContractSendChannelSettle struct {
	ChannelID           common.ChannelID
	TokenNetworkAddress common.TokenNetworkAddress
}

type ContractSendChannelWithdraw struct {
	ChannelID           common.ChannelID
	TokenNetworkAddress common.TokenNetworkAddress
	TotalWithdraw       common.TokenAmount
	Expiration          common.BlockHeight
	PartnerSignature    common.Signature
}

// ContractSendSecretReveal registers a secret on chain before the lock
// expires.
type ContractSendSecretReveal struct {
	Secret     common.Secret
	Expiration common.BlockHeight
}

type EventPaymentSentSuccess struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	PaymentID           common.PaymentID
	Amount              common.TokenAmount
	Target              common.Address
	SecretHash          common.SecretHash
}

type EventPaymentSentFailed struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	PaymentID           common.PaymentID
	Target              common.Address
	SecretHash          common.SecretHash
	Reason              string
}

type EventPaymentReceivedSuccess struct {
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	PaymentID           common.PaymentID
	Amount              common.TokenAmount
	Initiator           common.Address
	SecretHash          common.SecretHash
}

type EventChannelOpened struct {
	ChannelID           common.ChannelID
	TokenAddress        common.TokenAddress
	TokenNetworkAddress common.TokenNetworkAddress
	Partner             common.Address
}

type EventChannelClosed struct {
	ChannelID           common.ChannelID
	TokenNetworkAddress common.TokenNetworkAddress
	ClosedBy            common.Address
}

type EventChannelSettled struct {
	ChannelID           common.ChannelID
	TokenNetworkAddress common.TokenNetworkAddress
}

type EventChannelDeposit struct {
	ChannelID    common.ChannelID
	Participant  common.Address
	TotalDeposit common.TokenAmount
}

type EventChannelWithdraw struct {
	ChannelID     common.ChannelID
	Participant   common.Address
	TotalWithdraw common.TokenAmount
}

type EventWithdrawFailed struct {
	ChannelID     common.ChannelID
	Participant   common.Address
	TotalWithdraw common.TokenAmount
	Reason        string
}

func (self *SendLockedTransfer) EventInterface()       {}
func (self *SendProcessed) EventInterface()            {}
func (self *SendSecretRequest) EventInterface()        {}
func (self *SendSecretReveal) EventInterface()         {}
func (self *SendBalanceProof) EventInterface()         {}
func (self *SendLockExpired) EventInterface()          {}
func (self *SendWithdrawRequest) EventInterface()      {}
func (self *SendWithdrawConfirmation) EventInterface() {}
func (self *SendWithdrawExpired) EventInterface()      {}

func (self *ContractSendChannelClose) EventInterface()    {}
func (self *ContractSendChannelSettle) EventInterface()   {}
func (self *ContractSendChannelWithdraw) EventInterface() {}
func (self *ContractSendSecretReveal) EventInterface()    {}

func (self *EventPaymentSentSuccess) EventInterface()     {}
func (self *EventPaymentSentFailed) EventInterface()      {}
func (self *EventPaymentReceivedSuccess) EventInterface() {}
func (self *EventChannelOpened) EventInterface()          {}
func (self *EventChannelClosed) EventInterface()          {}
func (self *EventChannelSettled) EventInterface()         {}
func (self *EventChannelDeposit) EventInterface()         {}
func (self *EventChannelWithdraw) EventInterface()        {}
func (self *EventWithdrawFailed) EventInterface()         {}
