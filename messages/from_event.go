package messages

import (
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/transfer"
)

func envelopeFromBalanceProof(proof *transfer.BalanceProofSignedState) EnvelopeMessage {
	return EnvelopeMessage{
		ChainID:             proof.ChainID,
		Nonce:               proof.Nonce,
		TokenNetworkAddress: proof.TokenNetworkAddress,
		ChannelID:           proof.ChannelID,
		TransferredAmount:   common.AmountOrZero(proof.TransferredAmount),
		LockedAmount:        common.AmountOrZero(proof.LockedAmount),
		Locksroot:           proof.Locksroot,
	}
}

// MessageFromSendEvent builds the unsigned wire message for an outbound
// message event. Returns nil for event types that carry no message.
func MessageFromSendEvent(event transfer.Event) Message {
	switch event := event.(type) {
	case *transfer.SendLockedTransfer:
		return lockedTransferFromEvent(event)
	case *transfer.SendProcessed:
		return &Processed{MessageID: event.MessageID}
	case *transfer.SendSecretRequest:
		return &SecretRequest{
			MessageID:  event.MessageID,
			PaymentID:  event.PaymentID,
			SecretHash: event.SecretHash,
			Amount:     common.AmountOrZero(event.Amount),
			Expiration: event.Expiration,
		}
	case *transfer.SendSecretReveal:
		return &RevealSecret{
			MessageID: event.MessageID,
			Secret:    event.Secret,
		}
	case *transfer.SendBalanceProof:
		return &Unlock{
			EnvelopeMessage: envelopeFromBalanceProof(event.BalanceProof),
			MessageID:       event.MessageID,
			PaymentID:       event.PaymentID,
			Secret:          event.Secret,
		}
	case *transfer.SendLockExpired:
		return &LockExpired{
			EnvelopeMessage: envelopeFromBalanceProof(event.BalanceProof),
			MessageID:       event.MessageID,
			Recipient:       event.Recipient,
			SecretHash:      event.SecretHash,
		}
	case *transfer.SendWithdrawRequest:
		return &WithdrawRequest{
			ChainID:             event.ChainID,
			MessageID:           event.MessageID,
			TokenNetworkAddress: event.TokenNetworkAddress,
			ChannelID:           event.ChannelID,
			Participant:         event.Participant,
			TotalWithdraw:       common.AmountOrZero(event.TotalWithdraw),
			Nonce:               event.Nonce,
			Expiration:          event.Expiration,
		}
	case *transfer.SendWithdrawConfirmation:
		return &WithdrawConfirmation{
			ChainID:             event.ChainID,
			MessageID:           event.MessageID,
			TokenNetworkAddress: event.TokenNetworkAddress,
			ChannelID:           event.ChannelID,
			Participant:         event.Participant,
			TotalWithdraw:       common.AmountOrZero(event.TotalWithdraw),
			Nonce:               event.Nonce,
			Expiration:          event.Expiration,
		}
	case *transfer.SendWithdrawExpired:
		return &WithdrawExpired{
			ChainID:             event.ChainID,
			MessageID:           event.MessageID,
			TokenNetworkAddress: event.TokenNetworkAddress,
			ChannelID:           event.ChannelID,
			Participant:         event.Participant,
			TotalWithdraw:       common.AmountOrZero(event.TotalWithdraw),
			Nonce:               event.Nonce,
			Expiration:          event.Expiration,
		}
	}
	log.Warnf("no message for event %T", event)
	return nil
}

func lockedTransferFromEvent(event *transfer.SendLockedTransfer) *LockedTransfer {
	state := event.Transfer
	routes := make([]RouteMetadata, 0, len(state.Routes))
	for _, route := range state.Routes {
		hops := make([]common.Address, len(route.Route))
		copy(hops, route.Route)
		routes = append(routes, RouteMetadata{Route: hops})
	}
	return &LockedTransfer{
		EnvelopeMessage: envelopeFromBalanceProof(state.BalanceProof),
		MessageID:       state.MessageID,
		PaymentID:       state.PaymentID,
		Token:           state.Token,
		Recipient:       event.Recipient,
		Target:          state.Target,
		Initiator:       state.Initiator,
		Lock: &Lock{
			Amount:     common.AmountOrZero(state.Lock.Amount),
			Expiration: state.Lock.Expiration,
			SecretHash: state.Lock.SecretHash,
		},
		Metadata: &Metadata{Routes: routes},
	}
}

// LockedTransferSignedFromMessage converts a verified incoming transfer into
// its state representation, recomputing the message hash the envelope
// signature covers.
func LockedTransferSignedFromMessage(message *LockedTransfer, sender common.Address) *transfer.LockedTransferSignedState {
	routes := make([]transfer.RouteState, 0, len(message.Metadata.Routes))
	for _, route := range message.Metadata.Routes {
		hops := make([]common.Address, len(route.Route))
		copy(hops, route.Route)
		routes = append(routes, transfer.RouteState{Route: hops})
	}
	return &transfer.LockedTransferSignedState{
		MessageID:    message.MessageID,
		PaymentID:    message.PaymentID,
		Token:        message.Token,
		BalanceProof: BalanceProofFromEnvelope(&message.EnvelopeMessage, message.MessageHash(), sender),
		Lock: &transfer.HashTimeLockState{
			Amount:     common.AmountOrZero(message.Lock.Amount),
			Expiration: message.Lock.Expiration,
			SecretHash: message.Lock.SecretHash,
		},
		Initiator: message.Initiator,
		Target:    message.Target,
		Routes:    routes,
	}
}

// RefundTransferSignedFromMessage is the RefundTransfer counterpart of
// LockedTransferSignedFromMessage. Refunds carry no route metadata.
func RefundTransferSignedFromMessage(message *RefundTransfer, sender common.Address) *transfer.LockedTransferSignedState {
	return &transfer.LockedTransferSignedState{
		MessageID:    message.MessageID,
		PaymentID:    message.PaymentID,
		Token:        message.Token,
		BalanceProof: BalanceProofFromEnvelope(&message.EnvelopeMessage, message.MessageHash(), sender),
		Lock: &transfer.HashTimeLockState{
			Amount:     common.AmountOrZero(message.Lock.Amount),
			Expiration: message.Lock.Expiration,
			SecretHash: message.Lock.SecretHash,
		},
		Initiator: message.Initiator,
		Target:    message.Target,
	}
}

// BalanceProofFromEnvelope lifts a verified envelope into a signed balance
// proof state.
func BalanceProofFromEnvelope(envelope *EnvelopeMessage, messageHash common.Keccak256,
	sender common.Address) *transfer.BalanceProofSignedState {

	return &transfer.BalanceProofSignedState{
		Nonce:               envelope.Nonce,
		TransferredAmount:   common.AmountOrZero(envelope.TransferredAmount),
		LockedAmount:        common.AmountOrZero(envelope.LockedAmount),
		Locksroot:           envelope.Locksroot,
		TokenNetworkAddress: envelope.TokenNetworkAddress,
		ChannelID:           envelope.ChannelID,
		ChainID:             envelope.ChainID,
		MessageHash:         common.AdditionalHash(messageHash[:]),
		Signature:           envelope.Signature,
		Sender:              sender,
	}
}
