package transfer

import (
	"bytes"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/common/constants"
)

// HashBalanceData condenses the three balance fields into the single hash
// that is committed on chain. The all-zero case hashes to the zero value so
// a fresh channel needs no signature to be checked against.
func HashBalanceData(transferredAmount common.TokenAmount, lockedAmount common.TokenAmount,
	locksroot common.Locksroot) common.BalanceHash {

	var balanceHash common.BalanceHash
	if common.IsAmountZero(transferredAmount) && common.IsAmountZero(lockedAmount) &&
		locksroot == common.EmptyLocksroot {
		return balanceHash
	}
	hash := common.Keccak256Hash(
		common.EncodeUint256(transferredAmount),
		common.EncodeUint256(lockedAmount),
		locksroot[:],
	)
	copy(balanceHash[:], hash[:])
	return balanceHash
}

// PackBalanceProof lays out the balance proof exactly as the token network
// contract hashes it before signature verification.
func PackBalanceProof(nonce common.Nonce, balanceHash common.BalanceHash,
	additionalHash common.AdditionalHash, channelID common.ChannelID,
	tokenNetworkAddress common.TokenNetworkAddress, chainID common.ChainID, msgType int) []byte {

	var buf bytes.Buffer
	buf.Write(tokenNetworkAddress[:])
	buf.Write(common.EncodeUint64As256(uint64(chainID)))
	buf.Write(common.EncodeUint64As256(uint64(msgType)))
	buf.Write(common.EncodeUint64As256(uint64(channelID)))
	buf.Write(balanceHash[:])
	buf.Write(common.EncodeUint64As256(uint64(nonce)))
	buf.Write(additionalHash)
	return buf.Bytes()
}

// PackWithdraw lays out the cooperative withdraw commitment signed by both
// participants. The requesting side's nonce is carried outside this block.
func PackWithdraw(chainID common.ChainID, tokenNetworkAddress common.TokenNetworkAddress,
	channelID common.ChannelID, participant common.Address,
	totalWithdraw common.TokenAmount, expiration common.BlockHeight) []byte {

	var buf bytes.Buffer
	buf.Write(tokenNetworkAddress[:])
	buf.Write(common.EncodeUint64As256(uint64(chainID)))
	buf.Write(common.EncodeUint64As256(uint64(constants.MessageTypeIDWithdraw)))
	buf.Write(common.EncodeUint64As256(uint64(channelID)))
	buf.Write(participant[:])
	buf.Write(common.EncodeUint256(totalWithdraw))
	buf.Write(common.EncodeUint64As256(uint64(expiration)))
	return buf.Bytes()
}

// ComputeLocksroot hashes the pending locks in insertion order. An empty
// lock list hashes the empty concatenation, not the zero hash.
func ComputeLocksroot(locks []*HashTimeLockState) common.Locksroot {
	var locksroot common.Locksroot
	var buf bytes.Buffer
	for _, lock := range locks {
		buf.Write(common.EncodeUint64As256(uint64(lock.Expiration)))
		buf.Write(common.EncodeUint256(lock.Amount))
		buf.Write(lock.SecretHash[:])
	}
	hash := common.Keccak256Hash(buf.Bytes())
	copy(locksroot[:], hash[:])
	return locksroot
}
