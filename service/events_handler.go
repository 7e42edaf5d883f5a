package service

import (
	"reflect"

	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/network"
	"github.com/rivulet-io/rivulet/transfer"
)

// eventHandler runs the effects of a committed state change.
type eventHandler interface {
	OnChannelEvent(service *ChannelService, event transfer.Event)
}

// ChannelEventHandler executes the effects a state transition emitted:
// outbound messages go to the retry transport, contract effects to the
// chain client, status events to the subscribers.
type ChannelEventHandler struct {
}

func (self *ChannelEventHandler) OnChannelEvent(service *ChannelService, event transfer.Event) {
	log.Debugf("[OnChannelEvent] %s", reflect.TypeOf(event).String())
	switch event := event.(type) {
	case *transfer.SendWithdrawRequest:
		// a request past its expiration is pointless to keep retrying
		self.sendWithExpiration(service, event, event.Expiration)
	case *transfer.SendWithdrawExpired:
		self.send(service, event)
	case *transfer.SendLockedTransfer:
		self.send(service, event)
	case *transfer.SendProcessed:
		self.send(service, event)
	case *transfer.SendSecretRequest:
		self.send(service, event)
	case *transfer.SendSecretReveal:
		self.send(service, event)
	case *transfer.SendBalanceProof:
		self.send(service, event)
	case *transfer.SendLockExpired:
		self.send(service, event)
	case *transfer.SendWithdrawConfirmation:
		self.send(service, event)
	case *transfer.ContractSendChannelClose:
		self.handleContractSendChannelClose(service, event)
	case *transfer.ContractSendChannelSettle:
		self.handleContractSendChannelSettle(service, event)
	case *transfer.ContractSendChannelWithdraw:
		self.handleContractSendChannelWithdraw(service, event)
	case *transfer.ContractSendSecretReveal:
		self.handleContractSendSecretReveal(service, event)
	case *transfer.EventPaymentSentSuccess:
		self.handlePaymentSentSuccess(service, event)
	case *transfer.EventPaymentSentFailed:
		self.handlePaymentSentFailed(service, event)
	case *transfer.EventPaymentReceivedSuccess:
		self.handlePaymentReceivedSuccess(service, event)
	case *transfer.EventChannelOpened, *transfer.EventChannelClosed,
		*transfer.EventChannelSettled, *transfer.EventChannelDeposit,
		*transfer.EventChannelWithdraw, *transfer.EventWithdrawFailed:
		service.notifyStatusEvent(event)
	default:
		log.Warnf("[OnChannelEvent] unknown event type %s", reflect.TypeOf(event).String())
	}
}

func (self *ChannelEventHandler) send(service *ChannelService, event transfer.SendEvent) {
	self.sendWithExpiration(service, event, 0)
}

// sendWithExpiration signs the message for an outbound event and hands it
// to the retry transport. A non zero expiration lets the transport give up
// once fewer than a reveal timeout of blocks remain.
func (self *ChannelEventHandler) sendWithExpiration(service *ChannelService,
	event transfer.SendEvent, expiration common.BlockHeight) {

	message := messages.MessageFromSendEvent(event)
	if message == nil {
		return
	}
	if err := service.Sign(message); err != nil {
		log.Errorf("sign message %d: %s", event.MessageIdentifier(), err)
		return
	}

	var safetyMargin common.BlockHeight
	if expiration != 0 {
		safetyMargin = common.BlockHeight(common.Config.RevealTimeout)
	}
	err := service.transport.SendAsync(event.QueueIdentifier(), message, expiration, safetyMargin)
	if err != nil {
		log.Errorf("queue message %d: %s", event.MessageIdentifier(), err)
	}
}

func (self *ChannelEventHandler) handleContractSendChannelClose(service *ChannelService,
	event *transfer.ContractSendChannelClose) {

	params := &network.CloseChannelParams{
		TokenNetworkAddress: event.TokenNetworkAddress,
		ChannelID:           event.ChannelID,
	}
	if proof := event.BalanceProof; proof != nil {
		params.Partner = proof.Sender
		params.BalanceHash = transfer.HashBalanceData(proof.TransferredAmount,
			proof.LockedAmount, proof.Locksroot)
		params.Nonce = proof.Nonce
		params.AdditionalHash = proof.MessageHash
		params.Signature = proof.Signature
	}

	if _, err := service.chain.CloseChannel(params); err != nil {
		log.Errorf("close channel %d: %s", event.ChannelID, err)
	}
}

func (self *ChannelEventHandler) handleContractSendChannelSettle(service *ChannelService,
	event *transfer.ContractSendChannelSettle) {

	_, err := service.chain.SettleChannel(event.TokenNetworkAddress, event.ChannelID)
	if err != nil {
		log.Errorf("settle channel %d: %s", event.ChannelID, err)
	}
}

// handleContractSendChannelWithdraw submits the cooperative withdraw with
// both signatures over the withdraw payload.
func (self *ChannelEventHandler) handleContractSendChannelWithdraw(service *ChannelService,
	event *transfer.ContractSendChannelWithdraw) {

	packed := transfer.PackWithdraw(service.chainID, event.TokenNetworkAddress,
		event.ChannelID, service.address, event.TotalWithdraw, event.Expiration)
	ourSignature, err := service.account.Sign(packed)
	if err != nil {
		log.Errorf("sign withdraw for channel %d: %s", event.ChannelID, err)
		return
	}

	_, err = service.chain.Withdraw(&network.WithdrawParams{
		TokenNetworkAddress: event.TokenNetworkAddress,
		ChannelID:           event.ChannelID,
		Participant:         service.address,
		TotalWithdraw:       common.AmountOrZero(event.TotalWithdraw),
		Expiration:          event.Expiration,
		ParticipantSig:      ourSignature,
		PartnerSig:          event.PartnerSignature,
	})
	if err != nil {
		log.Errorf("withdraw from channel %d: %s", event.ChannelID, err)
	}
}

func (self *ChannelEventHandler) handleContractSendSecretReveal(service *ChannelService,
	event *transfer.ContractSendSecretReveal) {

	if _, err := service.chain.RegisterSecret(event.Secret); err != nil {
		log.Errorf("register secret on chain: %s", err)
	}
}

func (self *ChannelEventHandler) handlePaymentSentSuccess(service *ChannelService,
	event *transfer.EventPaymentSentSuccess) {

	status, exist := service.GetPaymentStatus(event.Target, event.PaymentID)
	if exist {
		service.RemovePaymentStatus(event.Target, event.PaymentID)
		status.paymentDone <- true
	}
	service.notifyStatusEvent(event)
}

func (self *ChannelEventHandler) handlePaymentSentFailed(service *ChannelService,
	event *transfer.EventPaymentSentFailed) {

	log.Warnf("payment %d to %v failed: %s", event.PaymentID, event.Target, event.Reason)
	status, exist := service.GetPaymentStatus(event.Target, event.PaymentID)
	if exist {
		service.RemovePaymentStatus(event.Target, event.PaymentID)
		status.paymentDone <- false
	}
	service.notifyStatusEvent(event)
}

func (self *ChannelEventHandler) handlePaymentReceivedSuccess(service *ChannelService,
	event *transfer.EventPaymentReceivedSuccess) {

	service.notificationLock.Lock()
	defer service.notificationLock.Unlock()
	for ch := range service.ReceiveNotificationChannels {
		select {
		case ch <- event:
		default:
			log.Warn("receive notification channel full, notification dropped")
		}
	}
	service.notifyStatusEvent(event)
}
