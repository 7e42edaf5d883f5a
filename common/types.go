package common

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/rivulet-io/rivulet/common/constants"
)

type Address [constants.AddrLen]byte

type AddressHex string

type Keccak256 [constants.HashLen]byte

type SecretHash [constants.HashLen]byte

type Locksroot [constants.HashLen]byte

type BalanceHash [constants.HashLen]byte

type AdditionalHash []byte

type BlockHeight uint64

type BlockTimeout uint64

type BlockExpiration uint64

type BlockHash []byte

type ChannelID uint64

type ChainID uint64

type MessageID uint64

type PaymentID uint64

type Nonce uint64

// TokenAmount carries uint256 protocol values. Amounts never go through a
// float or 53-bit limited representation.
type TokenAmount = *big.Int

type TokenAddress [constants.AddrLen]byte

type TokenNetworkAddress [constants.AddrLen]byte

type Secret []byte

type Signature []byte

type PubKey []byte

type TransactionHash []byte

var EmptySecretHash = SecretHash{}

var EmptyLocksroot = Locksroot{}

var EmptyBalanceHash = BalanceHash{}

var EmptyAddress = Address{}

func (self SecretHash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(self[:])), nil
}

func (self *SecretHash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != constants.HashLen {
		return fmt.Errorf("invalid secret hash length %d", len(raw))
	}
	copy(self[:], raw)
	return nil
}

func (self Address) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(self[:])), nil
}

func (self *Address) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != constants.AddrLen {
		return fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(self[:], raw)
	return nil
}
