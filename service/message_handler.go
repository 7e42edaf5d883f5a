package service

import (
	"reflect"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/transfer"
)

// MessageHandler verifies inbound wire messages and converts them into
// state changes. Messages with a bad signature or an unexpected sender are
// dropped here, the state machines never see them.
type MessageHandler struct {
}

func (self *MessageHandler) OnMessage(service *ChannelService, message messages.Message) {
	log.Debugf("[OnMessage] %s", reflect.TypeOf(message).String())

	signed, ok := message.(messages.SignedMessage)
	if !ok {
		log.Warnf("unsigned message type %T dropped", message)
		return
	}
	sender, err := messages.Verify(signed, nil)
	if err != nil {
		log.Warnf("message %T signature invalid: %s", message, err)
		return
	}
	if sender == service.address {
		log.Warnf("message %T echoed back from ourselves", message)
		return
	}

	switch message := message.(type) {
	case *messages.Delivered:
		self.handleDelivered(service, message, sender)
		return
	case *messages.Processed:
		self.handleProcessed(service, message, sender)
	case *messages.SecretRequest:
		self.handleSecretRequest(service, message, sender)
	case *messages.RevealSecret:
		self.handleRevealSecret(service, message, sender)
	case *messages.LockedTransfer:
		self.handleLockedTransfer(service, message, sender)
	case *messages.RefundTransfer:
		self.handleRefundTransfer(service, message, sender)
	case *messages.Unlock:
		self.handleUnlock(service, message, sender)
	case *messages.LockExpired:
		self.handleLockExpired(service, message, sender)
	case *messages.WithdrawRequest:
		self.handleWithdrawRequest(service, message, sender)
	case *messages.WithdrawConfirmation:
		self.handleWithdrawConfirmation(service, message, sender)
	case *messages.WithdrawExpired:
		self.handleWithdrawExpired(service, message, sender)
	default:
		log.Warnf("unknown message type %T", message)
		return
	}

	service.SendDeliveredFor(message, sender)
}

func (self *MessageHandler) handleDelivered(service *ChannelService, message *messages.Delivered,
	sender common.Address) {

	service.transport.Deliver(message.DeliveredMessageID)
	service.DispatchToPartner(sender, &transfer.ReceiveDelivered{
		Sender:    sender,
		MessageID: message.DeliveredMessageID,
	})
}

func (self *MessageHandler) handleProcessed(service *ChannelService, message *messages.Processed,
	sender common.Address) {

	service.transport.Deliver(message.MessageID)
	service.DispatchToPartner(sender, &transfer.ReceiveProcessed{
		Sender:    sender,
		MessageID: message.MessageID,
	})
}

func (self *MessageHandler) handleSecretRequest(service *ChannelService, message *messages.SecretRequest,
	sender common.Address) {

	service.DispatchToPartner(sender, &transfer.ReceiveSecretRequest{
		Sender:     sender,
		MessageID:  message.MessageID,
		PaymentID:  message.PaymentID,
		SecretHash: message.SecretHash,
		Amount:     common.AmountOrZero(message.Amount),
		Expiration: message.Expiration,
	})
}

func (self *MessageHandler) handleRevealSecret(service *ChannelService, message *messages.RevealSecret,
	sender common.Address) {

	service.DispatchToPartner(sender, &transfer.ReceiveSecretReveal{
		Sender:    sender,
		MessageID: message.MessageID,
		Secret:    message.Secret,
	})
}

func (self *MessageHandler) handleLockedTransfer(service *ChannelService, message *messages.LockedTransfer,
	sender common.Address) {

	if message.Recipient != service.address {
		log.Warnf("locked transfer %d addressed to %v, not us", message.MessageID, message.Recipient)
		return
	}
	if message.Lock == nil || message.Metadata == nil {
		log.Warnf("locked transfer %d missing lock or metadata", message.MessageID)
		return
	}
	service.DispatchToPartner(sender, &transfer.ReceiveLockedTransfer{
		MessageID: message.MessageID,
		Transfer:  messages.LockedTransferSignedFromMessage(message, sender),
	})
}

func (self *MessageHandler) handleRefundTransfer(service *ChannelService, message *messages.RefundTransfer,
	sender common.Address) {

	if message.Recipient != service.address {
		log.Warnf("refund transfer %d addressed to %v, not us", message.MessageID, message.Recipient)
		return
	}
	if message.Lock == nil {
		log.Warnf("refund transfer %d missing lock", message.MessageID)
		return
	}
	service.DispatchToPartner(sender, &transfer.ReceiveRefundTransfer{
		MessageID: message.MessageID,
		Transfer:  messages.RefundTransferSignedFromMessage(message, sender),
	})
}

func (self *MessageHandler) handleUnlock(service *ChannelService, message *messages.Unlock,
	sender common.Address) {

	service.DispatchToPartner(sender, &transfer.ReceiveUnlock{
		MessageID:    message.MessageID,
		PaymentID:    message.PaymentID,
		Secret:       message.Secret,
		BalanceProof: messages.BalanceProofFromEnvelope(&message.EnvelopeMessage, message.MessageHash(), sender),
	})
}

func (self *MessageHandler) handleLockExpired(service *ChannelService, message *messages.LockExpired,
	sender common.Address) {

	if message.Recipient != service.address {
		log.Warnf("lock expired %d addressed to %v, not us", message.MessageID, message.Recipient)
		return
	}
	service.DispatchToPartner(sender, &transfer.ReceiveLockExpired{
		MessageID:    message.MessageID,
		SecretHash:   message.SecretHash,
		BalanceProof: messages.BalanceProofFromEnvelope(&message.EnvelopeMessage, message.MessageHash(), sender),
	})
}

func (self *MessageHandler) handleWithdrawRequest(service *ChannelService, message *messages.WithdrawRequest,
	sender common.Address) {

	// the participant withdrawing must be the one who signed the request
	if message.Participant != sender {
		log.Warnf("withdraw request %d signed by %v for participant %v", message.MessageID,
			sender, message.Participant)
		return
	}
	service.DispatchToPartner(sender, &transfer.ReceiveWithdrawRequest{
		TokenNetworkAddress: message.TokenNetworkAddress,
		ChannelID:           message.ChannelID,
		Participant:         message.Participant,
		TotalWithdraw:       common.AmountOrZero(message.TotalWithdraw),
		Nonce:               message.Nonce,
		Expiration:          message.Expiration,
		MessageID:           message.MessageID,
		Signature:           message.Signature,
	})
}

func (self *MessageHandler) handleWithdrawConfirmation(service *ChannelService,
	message *messages.WithdrawConfirmation, sender common.Address) {

	// the confirmation acknowledges our own request
	if message.Participant != service.address {
		log.Warnf("withdraw confirmation %d for participant %v, not us", message.MessageID,
			message.Participant)
		return
	}
	service.transport.Deliver(message.MessageID)
	service.DispatchToPartner(sender, &transfer.ReceiveWithdrawConfirmation{
		TokenNetworkAddress: message.TokenNetworkAddress,
		ChannelID:           message.ChannelID,
		Participant:         message.Participant,
		TotalWithdraw:       common.AmountOrZero(message.TotalWithdraw),
		Nonce:               message.Nonce,
		Expiration:          message.Expiration,
		MessageID:           message.MessageID,
		Signature:           message.Signature,
	})
}

func (self *MessageHandler) handleWithdrawExpired(service *ChannelService, message *messages.WithdrawExpired,
	sender common.Address) {

	if message.Participant != sender {
		log.Warnf("withdraw expired %d signed by %v for participant %v", message.MessageID,
			sender, message.Participant)
		return
	}
	service.DispatchToPartner(sender, &transfer.ReceiveWithdrawExpired{
		TokenNetworkAddress: message.TokenNetworkAddress,
		ChannelID:           message.ChannelID,
		Participant:         message.Participant,
		TotalWithdraw:       common.AmountOrZero(message.TotalWithdraw),
		Nonce:               message.Nonce,
		Expiration:          message.Expiration,
		MessageID:           message.MessageID,
	})
}
