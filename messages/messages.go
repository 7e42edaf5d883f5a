package messages

import (
	"github.com/rivulet-io/rivulet/common"
)

type MessageType string

const (
	TypeDelivered            MessageType = "Delivered"
	TypeProcessed            MessageType = "Processed"
	TypeSecretRequest        MessageType = "SecretRequest"
	TypeRevealSecret         MessageType = "RevealSecret"
	TypeLockedTransfer       MessageType = "LockedTransfer"
	TypeRefundTransfer       MessageType = "RefundTransfer"
	TypeUnlock               MessageType = "Unlock"
	TypeLockExpired          MessageType = "LockExpired"
	TypeWithdrawRequest      MessageType = "WithdrawRequest"
	TypeWithdrawConfirmation MessageType = "WithdrawConfirmation"
	TypeWithdrawExpired      MessageType = "WithdrawExpired"
)

// Message is the closed union of wire messages.
type Message interface {
	Type() MessageType
}

// SignedMessage is a message carrying a recoverable signature over its
// DataToSign payload. The payload layouts are fixed-width and big endian;
// compatibility with the counterpart network depends on reproducing them
// byte for byte.
type SignedMessage interface {
	Message
	DataToSign() []byte
	GetSignature() common.Signature
	SetSignature(signature common.Signature)
}

// EnvelopeMessage holds the balance proof fields shared by every message
// that mutates a channel's balance proof.
type EnvelopeMessage struct {
	ChainID             common.ChainID
	Nonce               common.Nonce
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	TransferredAmount   common.TokenAmount
	LockedAmount        common.TokenAmount
	Locksroot           common.Locksroot
	Signature           common.Signature
}

func (self *EnvelopeMessage) GetSignature() common.Signature {
	return self.Signature
}

func (self *EnvelopeMessage) SetSignature(signature common.Signature) {
	self.Signature = signature
}

type Lock struct {
	Amount     common.TokenAmount
	Expiration common.BlockHeight
	SecretHash common.SecretHash
}

type RouteMetadata struct {
	Route []common.Address
}

type Metadata struct {
	Routes []RouteMetadata
}

type LockedTransfer struct {
	EnvelopeMessage
	MessageID common.MessageID
	PaymentID common.PaymentID
	Token     common.TokenAddress
	Recipient common.Address
	Target    common.Address
	Initiator common.Address
	Lock      *Lock
	Metadata  *Metadata
}

func (self *LockedTransfer) Type() MessageType { return TypeLockedTransfer }

// RefundTransfer mirrors LockedTransfer but flows back towards the payer to
// reject a transfer while keeping balance proofs in sync. It carries no
// route metadata.
type RefundTransfer struct {
	EnvelopeMessage
	MessageID common.MessageID
	PaymentID common.PaymentID
	Token     common.TokenAddress
	Recipient common.Address
	Target    common.Address
	Initiator common.Address
	Lock      *Lock
}

func (self *RefundTransfer) Type() MessageType { return TypeRefundTransfer }

type Unlock struct {
	EnvelopeMessage
	MessageID common.MessageID
	PaymentID common.PaymentID
	Secret    common.Secret
}

func (self *Unlock) Type() MessageType { return TypeUnlock }

type LockExpired struct {
	EnvelopeMessage
	MessageID  common.MessageID
	Recipient  common.Address
	SecretHash common.SecretHash
}

func (self *LockExpired) Type() MessageType { return TypeLockExpired }

type Processed struct {
	MessageID common.MessageID
	Signature common.Signature
}

func (self *Processed) Type() MessageType { return TypeProcessed }

func (self *Processed) GetSignature() common.Signature { return self.Signature }

func (self *Processed) SetSignature(signature common.Signature) { self.Signature = signature }

type Delivered struct {
	DeliveredMessageID common.MessageID
	Signature          common.Signature
}

func (self *Delivered) Type() MessageType { return TypeDelivered }

func (self *Delivered) GetSignature() common.Signature { return self.Signature }

func (self *Delivered) SetSignature(signature common.Signature) { self.Signature = signature }

type SecretRequest struct {
	MessageID  common.MessageID
	PaymentID  common.PaymentID
	SecretHash common.SecretHash
	Amount     common.TokenAmount
	Expiration common.BlockHeight
	Signature  common.Signature
}

func (self *SecretRequest) Type() MessageType { return TypeSecretRequest }

func (self *SecretRequest) GetSignature() common.Signature { return self.Signature }

func (self *SecretRequest) SetSignature(signature common.Signature) { self.Signature = signature }

type RevealSecret struct {
	MessageID common.MessageID
	Secret    common.Secret
	Signature common.Signature
}

func (self *RevealSecret) Type() MessageType { return TypeRevealSecret }

func (self *RevealSecret) GetSignature() common.Signature { return self.Signature }

func (self *RevealSecret) SetSignature(signature common.Signature) { self.Signature = signature }

// withdraw messages consume a channel nonce but leave transferred/locked
// amounts and the locksroot untouched.
type WithdrawRequest struct {
	ChainID             common.ChainID
	MessageID           common.MessageID
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	Signature           common.Signature
}

func (self *WithdrawRequest) Type() MessageType { return TypeWithdrawRequest }

func (self *WithdrawRequest) GetSignature() common.Signature { return self.Signature }

func (self *WithdrawRequest) SetSignature(signature common.Signature) { self.Signature = signature }

type WithdrawConfirmation struct {
	ChainID             common.ChainID
	MessageID           common.MessageID
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	Signature           common.Signature
}

func (self *WithdrawConfirmation) Type() MessageType { return TypeWithdrawConfirmation }

func (self *WithdrawConfirmation) GetSignature() common.Signature { return self.Signature }

func (self *WithdrawConfirmation) SetSignature(signature common.Signature) { self.Signature = signature }

type WithdrawExpired struct {
	ChainID             common.ChainID
	MessageID           common.MessageID
	TokenNetworkAddress common.TokenNetworkAddress
	ChannelID           common.ChannelID
	Participant         common.Address
	TotalWithdraw       common.TokenAmount
	Nonce               common.Nonce
	Expiration          common.BlockHeight
	Signature           common.Signature
}

func (self *WithdrawExpired) Type() MessageType { return TypeWithdrawExpired }

func (self *WithdrawExpired) GetSignature() common.Signature { return self.Signature }

func (self *WithdrawExpired) SetSignature(signature common.Signature) { self.Signature = signature }

// MessageIdentifier extracts the retry key of any outbound message.
func MessageIdentifier(message Message) common.MessageID {
	switch msg := message.(type) {
	case *LockedTransfer:
		return msg.MessageID
	case *RefundTransfer:
		return msg.MessageID
	case *Unlock:
		return msg.MessageID
	case *LockExpired:
		return msg.MessageID
	case *Processed:
		return msg.MessageID
	case *Delivered:
		return msg.DeliveredMessageID
	case *SecretRequest:
		return msg.MessageID
	case *RevealSecret:
		return msg.MessageID
	case *WithdrawRequest:
		return msg.MessageID
	case *WithdrawConfirmation:
		return msg.MessageID
	case *WithdrawExpired:
		return msg.MessageID
	}
	return 0
}
