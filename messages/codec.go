package messages

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/common/constants"
)

// The canonical wire representation is JSON keyed by "type". Integer fields
// are emitted as raw JSON numbers and decoded through typed fields, never
// through float64, so uint256 values survive the round trip.

type hexData []byte

func (self hexData) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(self))
}

func (self *hexData) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	if len(text) >= 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		text = text[2:]
	}
	raw, err := hex.DecodeString(text)
	if err != nil {
		return err
	}
	*self = raw
	return nil
}

func (self hexData) toFixed(width int) ([]byte, error) {
	if len(self) != width {
		return nil, errors.Errorf("expected %d bytes, got %d", width, len(self))
	}
	return self, nil
}

func (self hexData) toAddress() (common.Address, error) {
	var address common.Address
	raw, err := self.toFixed(constants.AddrLen)
	if err != nil {
		return address, err
	}
	copy(address[:], raw)
	return address, nil
}

func (self hexData) toHash() ([constants.HashLen]byte, error) {
	var hash [constants.HashLen]byte
	raw, err := self.toFixed(constants.HashLen)
	if err != nil {
		return hash, err
	}
	copy(hash[:], raw)
	return hash, nil
}

type wireEnvelope struct {
	ChainID             *big.Int `json:"chain_id"`
	Nonce               uint64   `json:"nonce"`
	TokenNetworkAddress hexData  `json:"token_network_address"`
	ChannelID           *big.Int `json:"channel_identifier"`
	TransferredAmount   *big.Int `json:"transferred_amount"`
	LockedAmount        *big.Int `json:"locked_amount"`
	Locksroot           hexData  `json:"locksroot"`
	Signature           hexData  `json:"signature,omitempty"`
}

type wireLock struct {
	Amount     *big.Int `json:"amount"`
	Expiration *big.Int `json:"expiration"`
	SecretHash hexData  `json:"secrethash"`
}

type wireRoute struct {
	Route []hexData `json:"route"`
}

type wireMetadata struct {
	Routes []wireRoute `json:"routes"`
}

type wireLockedTransfer struct {
	Type string `json:"type"`
	wireEnvelope
	MessageID uint64        `json:"message_identifier"`
	PaymentID uint64        `json:"payment_identifier"`
	Token     hexData       `json:"token"`
	Recipient hexData       `json:"recipient"`
	Target    hexData       `json:"target"`
	Initiator hexData       `json:"initiator"`
	Lock      *wireLock     `json:"lock"`
	Metadata  *wireMetadata `json:"metadata,omitempty"`
}

type wireUnlock struct {
	Type string `json:"type"`
	wireEnvelope
	MessageID uint64  `json:"message_identifier"`
	PaymentID uint64  `json:"payment_identifier"`
	Secret    hexData `json:"secret"`
}

type wireLockExpired struct {
	Type string `json:"type"`
	wireEnvelope
	MessageID  uint64  `json:"message_identifier"`
	Recipient  hexData `json:"recipient"`
	SecretHash hexData `json:"secrethash"`
}

type wireProcessed struct {
	Type      string  `json:"type"`
	MessageID uint64  `json:"message_identifier"`
	Signature hexData `json:"signature,omitempty"`
}

type wireDelivered struct {
	Type               string  `json:"type"`
	DeliveredMessageID uint64  `json:"delivered_message_identifier"`
	Signature          hexData `json:"signature,omitempty"`
}

type wireSecretRequest struct {
	Type       string   `json:"type"`
	MessageID  uint64   `json:"message_identifier"`
	PaymentID  uint64   `json:"payment_identifier"`
	SecretHash hexData  `json:"secrethash"`
	Amount     *big.Int `json:"amount"`
	Expiration *big.Int `json:"expiration"`
	Signature  hexData  `json:"signature,omitempty"`
}

type wireRevealSecret struct {
	Type      string  `json:"type"`
	MessageID uint64  `json:"message_identifier"`
	Secret    hexData `json:"secret"`
	Signature hexData `json:"signature,omitempty"`
}

type wireWithdraw struct {
	Type                string   `json:"type"`
	ChainID             *big.Int `json:"chain_id"`
	MessageID           uint64   `json:"message_identifier"`
	TokenNetworkAddress hexData  `json:"token_network_address"`
	ChannelID           *big.Int `json:"channel_identifier"`
	Participant         hexData  `json:"participant"`
	TotalWithdraw       *big.Int `json:"total_withdraw"`
	Nonce               uint64   `json:"nonce"`
	Expiration          *big.Int `json:"expiration"`
	Signature           hexData  `json:"signature,omitempty"`
}

func envelopeToWire(env *EnvelopeMessage) wireEnvelope {
	return wireEnvelope{
		ChainID:             new(big.Int).SetUint64(uint64(env.ChainID)),
		Nonce:               uint64(env.Nonce),
		TokenNetworkAddress: env.TokenNetworkAddress[:],
		ChannelID:           new(big.Int).SetUint64(uint64(env.ChannelID)),
		TransferredAmount:   common.AmountOrZero(env.TransferredAmount),
		LockedAmount:        common.AmountOrZero(env.LockedAmount),
		Locksroot:           env.Locksroot[:],
		Signature:           hexData(env.Signature),
	}
}

func envelopeFromWire(wire *wireEnvelope) (EnvelopeMessage, error) {
	var env EnvelopeMessage
	if wire.ChainID == nil || wire.ChannelID == nil ||
		wire.TransferredAmount == nil || wire.LockedAmount == nil {
		return env, errors.New("envelope message misses balance proof fields")
	}
	tokenNetwork, err := wire.TokenNetworkAddress.toAddress()
	if err != nil {
		return env, errors.Wrap(err, "token_network_address")
	}
	locksroot, err := wire.Locksroot.toHash()
	if err != nil {
		return env, errors.Wrap(err, "locksroot")
	}
	env.ChainID = common.ChainID(wire.ChainID.Uint64())
	env.Nonce = common.Nonce(wire.Nonce)
	env.TokenNetworkAddress = common.TokenNetworkAddress(tokenNetwork)
	env.ChannelID = common.ChannelID(wire.ChannelID.Uint64())
	env.TransferredAmount = wire.TransferredAmount
	env.LockedAmount = wire.LockedAmount
	env.Locksroot = locksroot
	env.Signature = common.Signature(wire.Signature)
	return env, nil
}

func lockToWire(lock *Lock) *wireLock {
	return &wireLock{
		Amount:     common.AmountOrZero(lock.Amount),
		Expiration: new(big.Int).SetUint64(uint64(lock.Expiration)),
		SecretHash: lock.SecretHash[:],
	}
}

func lockFromWire(wire *wireLock) (*Lock, error) {
	if wire == nil || wire.Amount == nil || wire.Expiration == nil {
		return nil, errors.New("missing or incomplete lock")
	}
	secretHash, err := wire.SecretHash.toHash()
	if err != nil {
		return nil, errors.Wrap(err, "lock secrethash")
	}
	return &Lock{
		Amount:     wire.Amount,
		Expiration: common.BlockHeight(wire.Expiration.Uint64()),
		SecretHash: common.SecretHash(secretHash),
	}, nil
}

func metadataToWire(metadata *Metadata) *wireMetadata {
	if metadata == nil {
		return nil
	}
	wire := &wireMetadata{}
	for _, route := range metadata.Routes {
		var hops []hexData
		for _, hop := range route.Route {
			hop := hop
			hops = append(hops, hop[:])
		}
		wire.Routes = append(wire.Routes, wireRoute{Route: hops})
	}
	return wire
}

func metadataFromWire(wire *wireMetadata) (*Metadata, error) {
	if wire == nil {
		return nil, nil
	}
	metadata := &Metadata{}
	for _, route := range wire.Routes {
		var hops []common.Address
		for _, hop := range route.Route {
			address, err := hop.toAddress()
			if err != nil {
				return nil, errors.Wrap(err, "metadata route")
			}
			hops = append(hops, address)
		}
		metadata.Routes = append(metadata.Routes, RouteMetadata{Route: hops})
	}
	return metadata, nil
}

// Encode serializes a message to its canonical JSON representation.
func Encode(message Message) ([]byte, error) {
	switch msg := message.(type) {
	case *LockedTransfer:
		return json.Marshal(&wireLockedTransfer{
			Type:         string(TypeLockedTransfer),
			wireEnvelope: envelopeToWire(&msg.EnvelopeMessage),
			MessageID:    uint64(msg.MessageID),
			PaymentID:    uint64(msg.PaymentID),
			Token:        msg.Token[:],
			Recipient:    msg.Recipient[:],
			Target:       msg.Target[:],
			Initiator:    msg.Initiator[:],
			Lock:         lockToWire(msg.Lock),
			Metadata:     metadataToWire(msg.Metadata),
		})
	case *RefundTransfer:
		return json.Marshal(&wireLockedTransfer{
			Type:         string(TypeRefundTransfer),
			wireEnvelope: envelopeToWire(&msg.EnvelopeMessage),
			MessageID:    uint64(msg.MessageID),
			PaymentID:    uint64(msg.PaymentID),
			Token:        msg.Token[:],
			Recipient:    msg.Recipient[:],
			Target:       msg.Target[:],
			Initiator:    msg.Initiator[:],
			Lock:         lockToWire(msg.Lock),
		})
	case *Unlock:
		return json.Marshal(&wireUnlock{
			Type:         string(TypeUnlock),
			wireEnvelope: envelopeToWire(&msg.EnvelopeMessage),
			MessageID:    uint64(msg.MessageID),
			PaymentID:    uint64(msg.PaymentID),
			Secret:       hexData(msg.Secret),
		})
	case *LockExpired:
		return json.Marshal(&wireLockExpired{
			Type:         string(TypeLockExpired),
			wireEnvelope: envelopeToWire(&msg.EnvelopeMessage),
			MessageID:    uint64(msg.MessageID),
			Recipient:    msg.Recipient[:],
			SecretHash:   msg.SecretHash[:],
		})
	case *Processed:
		return json.Marshal(&wireProcessed{
			Type:      string(TypeProcessed),
			MessageID: uint64(msg.MessageID),
			Signature: hexData(msg.Signature),
		})
	case *Delivered:
		return json.Marshal(&wireDelivered{
			Type:               string(TypeDelivered),
			DeliveredMessageID: uint64(msg.DeliveredMessageID),
			Signature:          hexData(msg.Signature),
		})
	case *SecretRequest:
		return json.Marshal(&wireSecretRequest{
			Type:       string(TypeSecretRequest),
			MessageID:  uint64(msg.MessageID),
			PaymentID:  uint64(msg.PaymentID),
			SecretHash: msg.SecretHash[:],
			Amount:     common.AmountOrZero(msg.Amount),
			Expiration: new(big.Int).SetUint64(uint64(msg.Expiration)),
			Signature:  hexData(msg.Signature),
		})
	case *RevealSecret:
		return json.Marshal(&wireRevealSecret{
			Type:      string(TypeRevealSecret),
			MessageID: uint64(msg.MessageID),
			Secret:    hexData(msg.Secret),
			Signature: hexData(msg.Signature),
		})
	case *WithdrawRequest:
		return json.Marshal(withdrawToWire(TypeWithdrawRequest, msg.ChainID, msg.MessageID,
			msg.TokenNetworkAddress, msg.ChannelID, msg.Participant, msg.TotalWithdraw,
			msg.Nonce, msg.Expiration, msg.Signature))
	case *WithdrawConfirmation:
		return json.Marshal(withdrawToWire(TypeWithdrawConfirmation, msg.ChainID, msg.MessageID,
			msg.TokenNetworkAddress, msg.ChannelID, msg.Participant, msg.TotalWithdraw,
			msg.Nonce, msg.Expiration, msg.Signature))
	case *WithdrawExpired:
		return json.Marshal(withdrawToWire(TypeWithdrawExpired, msg.ChainID, msg.MessageID,
			msg.TokenNetworkAddress, msg.ChannelID, msg.Participant, msg.TotalWithdraw,
			msg.Nonce, msg.Expiration, msg.Signature))
	}
	return nil, errors.Errorf("unknown message type %T", message)
}

func withdrawToWire(msgType MessageType, chainID common.ChainID, messageID common.MessageID,
	tokenNetwork common.TokenNetworkAddress, channelID common.ChannelID, participant common.Address,
	totalWithdraw common.TokenAmount, nonce common.Nonce, expiration common.BlockHeight,
	signature common.Signature) *wireWithdraw {

	return &wireWithdraw{
		Type:                string(msgType),
		ChainID:             new(big.Int).SetUint64(uint64(chainID)),
		MessageID:           uint64(messageID),
		TokenNetworkAddress: tokenNetwork[:],
		ChannelID:           new(big.Int).SetUint64(uint64(channelID)),
		Participant:         participant[:],
		TotalWithdraw:       common.AmountOrZero(totalWithdraw),
		Nonce:               uint64(nonce),
		Expiration:          new(big.Int).SetUint64(uint64(expiration)),
		Signature:           hexData(signature),
	}
}

// Decode parses canonical JSON into a message, validating the tagged type
// and every fixed-width field.
func Decode(data []byte) (Message, error) {
	var tag struct {
		Type string `json:"type"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&tag); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}

	switch MessageType(tag.Type) {
	case TypeLockedTransfer, TypeRefundTransfer:
		var wire wireLockedTransfer
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return lockedTransferFromWire(&wire)
	case TypeUnlock:
		var wire wireUnlock
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		env, err := envelopeFromWire(&wire.wireEnvelope)
		if err != nil {
			return nil, err
		}
		if len(wire.Secret) != constants.SecretLen {
			return nil, errors.New("invalid secret length")
		}
		return &Unlock{
			EnvelopeMessage: env,
			MessageID:       common.MessageID(wire.MessageID),
			PaymentID:       common.PaymentID(wire.PaymentID),
			Secret:          common.Secret(wire.Secret),
		}, nil
	case TypeLockExpired:
		var wire wireLockExpired
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		env, err := envelopeFromWire(&wire.wireEnvelope)
		if err != nil {
			return nil, err
		}
		recipient, err := wire.Recipient.toAddress()
		if err != nil {
			return nil, errors.Wrap(err, "recipient")
		}
		secretHash, err := wire.SecretHash.toHash()
		if err != nil {
			return nil, errors.Wrap(err, "secrethash")
		}
		return &LockExpired{
			EnvelopeMessage: env,
			MessageID:       common.MessageID(wire.MessageID),
			Recipient:       recipient,
			SecretHash:      common.SecretHash(secretHash),
		}, nil
	case TypeProcessed:
		var wire wireProcessed
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &Processed{
			MessageID: common.MessageID(wire.MessageID),
			Signature: common.Signature(wire.Signature),
		}, nil
	case TypeDelivered:
		var wire wireDelivered
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return &Delivered{
			DeliveredMessageID: common.MessageID(wire.DeliveredMessageID),
			Signature:          common.Signature(wire.Signature),
		}, nil
	case TypeSecretRequest:
		var wire wireSecretRequest
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		if wire.Amount == nil || wire.Expiration == nil {
			return nil, errors.New("secret request misses amount or expiration")
		}
		secretHash, err := wire.SecretHash.toHash()
		if err != nil {
			return nil, errors.Wrap(err, "secrethash")
		}
		return &SecretRequest{
			MessageID:  common.MessageID(wire.MessageID),
			PaymentID:  common.PaymentID(wire.PaymentID),
			SecretHash: common.SecretHash(secretHash),
			Amount:     wire.Amount,
			Expiration: common.BlockHeight(wire.Expiration.Uint64()),
			Signature:  common.Signature(wire.Signature),
		}, nil
	case TypeRevealSecret:
		var wire wireRevealSecret
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		if len(wire.Secret) != constants.SecretLen {
			return nil, errors.New("invalid secret length")
		}
		return &RevealSecret{
			MessageID: common.MessageID(wire.MessageID),
			Secret:    common.Secret(wire.Secret),
			Signature: common.Signature(wire.Signature),
		}, nil
	case TypeWithdrawRequest, TypeWithdrawConfirmation, TypeWithdrawExpired:
		var wire wireWithdraw
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		return withdrawFromWire(MessageType(tag.Type), &wire)
	}
	return nil, errors.Errorf("unknown message type %q", tag.Type)
}

func lockedTransferFromWire(wire *wireLockedTransfer) (Message, error) {
	env, err := envelopeFromWire(&wire.wireEnvelope)
	if err != nil {
		return nil, err
	}
	token, err := wire.Token.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "token")
	}
	recipient, err := wire.Recipient.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "recipient")
	}
	target, err := wire.Target.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "target")
	}
	initiator, err := wire.Initiator.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "initiator")
	}
	lock, err := lockFromWire(wire.Lock)
	if err != nil {
		return nil, err
	}

	if MessageType(wire.Type) == TypeRefundTransfer {
		return &RefundTransfer{
			EnvelopeMessage: env,
			MessageID:       common.MessageID(wire.MessageID),
			PaymentID:       common.PaymentID(wire.PaymentID),
			Token:           common.TokenAddress(token),
			Recipient:       recipient,
			Target:          target,
			Initiator:       initiator,
			Lock:            lock,
		}, nil
	}
	metadata, err := metadataFromWire(wire.Metadata)
	if err != nil {
		return nil, err
	}
	return &LockedTransfer{
		EnvelopeMessage: env,
		MessageID:       common.MessageID(wire.MessageID),
		PaymentID:       common.PaymentID(wire.PaymentID),
		Token:           common.TokenAddress(token),
		Recipient:       recipient,
		Target:          target,
		Initiator:       initiator,
		Lock:            lock,
		Metadata:        metadata,
	}, nil
}

func withdrawFromWire(msgType MessageType, wire *wireWithdraw) (Message, error) {
	if wire.ChainID == nil || wire.ChannelID == nil || wire.TotalWithdraw == nil || wire.Expiration == nil {
		return nil, errors.Errorf("%s misses required fields", msgType)
	}
	tokenNetwork, err := wire.TokenNetworkAddress.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "token_network_address")
	}
	participant, err := wire.Participant.toAddress()
	if err != nil {
		return nil, errors.Wrap(err, "participant")
	}

	chainID := common.ChainID(wire.ChainID.Uint64())
	messageID := common.MessageID(wire.MessageID)
	channelID := common.ChannelID(wire.ChannelID.Uint64())
	nonce := common.Nonce(wire.Nonce)
	expiration := common.BlockHeight(wire.Expiration.Uint64())
	signature := common.Signature(wire.Signature)

	switch msgType {
	case TypeWithdrawRequest:
		return &WithdrawRequest{
			ChainID: chainID, MessageID: messageID,
			TokenNetworkAddress: common.TokenNetworkAddress(tokenNetwork), ChannelID: channelID,
			Participant: participant, TotalWithdraw: wire.TotalWithdraw,
			Nonce: nonce, Expiration: expiration, Signature: signature,
		}, nil
	case TypeWithdrawConfirmation:
		return &WithdrawConfirmation{
			ChainID: chainID, MessageID: messageID,
			TokenNetworkAddress: common.TokenNetworkAddress(tokenNetwork), ChannelID: channelID,
			Participant: participant, TotalWithdraw: wire.TotalWithdraw,
			Nonce: nonce, Expiration: expiration, Signature: signature,
		}, nil
	default:
		return &WithdrawExpired{
			ChainID: chainID, MessageID: messageID,
			TokenNetworkAddress: common.TokenNetworkAddress(tokenNetwork), ChannelID: channelID,
			Participant: participant, TotalWithdraw: wire.TotalWithdraw,
			Nonce: nonce, Expiration: expiration, Signature: signature,
		}, nil
	}
}
