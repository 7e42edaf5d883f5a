package messages

import (
	"bytes"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/common/constants"
	"github.com/rivulet-io/rivulet/transfer"
)

var pad3 = []byte{0, 0, 0}

func (self *Processed) DataToSign() []byte {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDProcessed)
	buf.Write(pad3)
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	return buf.Bytes()
}

func (self *Delivered) DataToSign() []byte {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDDelivered)
	buf.Write(pad3)
	buf.Write(common.Uint64ToBytes(uint64(self.DeliveredMessageID)))
	return buf.Bytes()
}

func (self *SecretRequest) DataToSign() []byte {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDSecretRequest)
	buf.Write(pad3)
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	buf.Write(common.Uint64ToBytes(uint64(self.PaymentID)))
	buf.Write(self.SecretHash[:])
	buf.Write(common.EncodeUint256(self.Amount))
	buf.Write(common.EncodeUint64As256(uint64(self.Expiration)))
	return buf.Bytes()
}

func (self *RevealSecret) DataToSign() []byte {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDSecretReveal)
	buf.Write(pad3)
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	buf.Write(self.Secret)
	return buf.Bytes()
}

// MetadataHash commits the route metadata into the LockedTransfer message
// hash: keccak of the rlp list of each route's rlp-encoded address list.
func MetadataHash(metadata *Metadata) common.Keccak256 {
	var routeHashes [][]byte
	if metadata != nil {
		for _, route := range metadata.Routes {
			var addresses [][]byte
			for _, hop := range route.Route {
				addresses = append(addresses, rlpEncodeBytes(hop[:]))
			}
			digest := common.Keccak256Hash(rlpEncodeList(addresses))
			routeHashes = append(routeHashes, rlpEncodeBytes(digest[:]))
		}
	}
	return common.Keccak256Hash(rlpEncodeList(routeHashes))
}

// MessageHash is the additional hash embedded in an envelope's signed
// balance proof; each envelope type packs its own fields.
func (self *LockedTransfer) MessageHash() common.Keccak256 {
	packed := packTransferFields(constants.CmdIDLockedTransfer, self.MessageID, self.PaymentID,
		self.Lock, self.Token, self.Recipient, self.Target, self.Initiator)
	metadataHash := MetadataHash(self.Metadata)
	packed = append(packed, metadataHash[:]...)
	return common.Keccak256Hash(packed)
}

func (self *RefundTransfer) MessageHash() common.Keccak256 {
	packed := packTransferFields(constants.CmdIDRefundTransfer, self.MessageID, self.PaymentID,
		self.Lock, self.Token, self.Recipient, self.Target, self.Initiator)
	return common.Keccak256Hash(packed)
}

func (self *Unlock) MessageHash() common.Keccak256 {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDUnlock)
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	buf.Write(common.Uint64ToBytes(uint64(self.PaymentID)))
	buf.Write(self.Secret)
	return common.Keccak256Hash(buf.Bytes())
}

func (self *LockExpired) MessageHash() common.Keccak256 {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDLockExpired)
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	buf.Write(self.Recipient[:])
	buf.Write(self.SecretHash[:])
	return common.Keccak256Hash(buf.Bytes())
}

func packTransferFields(cmdID byte, messageID common.MessageID, paymentID common.PaymentID,
	lock *Lock, token common.TokenAddress, recipient common.Address, target common.Address,
	initiator common.Address) []byte {

	var buf bytes.Buffer
	buf.WriteByte(cmdID)
	buf.Write(common.Uint64ToBytes(uint64(messageID)))
	buf.Write(common.Uint64ToBytes(uint64(paymentID)))
	buf.Write(common.EncodeUint64As256(uint64(lock.Expiration)))
	buf.Write(token[:])
	buf.Write(recipient[:])
	buf.Write(target[:])
	buf.Write(initiator[:])
	buf.Write(lock.SecretHash[:])
	buf.Write(common.EncodeUint256(lock.Amount))
	return buf.Bytes()
}

func (self *EnvelopeMessage) balanceProofPack(messageHash common.Keccak256) []byte {
	balanceHash := transfer.HashBalanceData(self.TransferredAmount, self.LockedAmount, self.Locksroot)
	return transfer.PackBalanceProof(self.Nonce, balanceHash, common.AdditionalHash(messageHash[:]),
		self.ChannelID, self.TokenNetworkAddress, self.ChainID, constants.MessageTypeIDBalanceProof)
}

func (self *LockedTransfer) DataToSign() []byte {
	return self.balanceProofPack(self.MessageHash())
}

func (self *RefundTransfer) DataToSign() []byte {
	return self.balanceProofPack(self.MessageHash())
}

func (self *Unlock) DataToSign() []byte {
	return self.balanceProofPack(self.MessageHash())
}

func (self *LockExpired) DataToSign() []byte {
	return self.balanceProofPack(self.MessageHash())
}

func (self *WithdrawRequest) DataToSign() []byte {
	return transfer.PackWithdraw(self.ChainID, self.TokenNetworkAddress, self.ChannelID,
		self.Participant, self.TotalWithdraw, self.Expiration)
}

func (self *WithdrawConfirmation) DataToSign() []byte {
	return transfer.PackWithdraw(self.ChainID, self.TokenNetworkAddress, self.ChannelID,
		self.Participant, self.TotalWithdraw, self.Expiration)
}

func (self *WithdrawExpired) DataToSign() []byte {
	var buf bytes.Buffer
	buf.WriteByte(constants.CmdIDWithdrawExpired)
	buf.Write(pad3)
	buf.Write(common.EncodeUint64As256(uint64(self.Nonce)))
	buf.Write(common.Uint64ToBytes(uint64(self.MessageID)))
	buf.Write(transfer.PackWithdraw(self.ChainID, self.TokenNetworkAddress, self.ChannelID,
		self.Participant, self.TotalWithdraw, self.Expiration))
	return buf.Bytes()
}
