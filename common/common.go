package common

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/rivulet-io/rivulet/common/constants"
)

func Keccak256Hash(data ...[]byte) Keccak256 {
	hasher := sha3.NewLegacyKeccak256()
	for _, b := range data {
		hasher.Write(b)
	}
	var sum [constants.HashLen]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// GetSecretHash returns the identifier of a secret. The counterpart network
// hashes secrets with sha256 while every other protocol digest is keccak256.
func GetSecretHash(secret Secret) SecretHash {
	return SecretHash(sha256.Sum256(secret))
}

func RandomSecret() Secret {
	secret := make([]byte, constants.SecretLen)
	for {
		if _, err := rand.Read(secret); err == nil {
			return secret
		}
	}
}

func GetMsgID() MessageID {
	limit := new(big.Int).SetInt64(math.MaxInt64)
	for {
		if id, err := rand.Int(rand.Reader, limit); err == nil {
			return MessageID(id.Uint64())
		}
	}
}

func Uint64ToBytes(n uint64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, n)
	return buf.Bytes()
}

func BytesToUint64(data []byte) uint64 {
	var n uint64
	binary.Read(bytes.NewBuffer(data), binary.BigEndian, &n)
	return n
}

// EncodeUint256 packs an amount as a 32 byte big endian word, the fixed
// width used in every signed payload.
func EncodeUint256(amount TokenAmount) []byte {
	word := make([]byte, constants.HashLen)
	if amount == nil {
		return word
	}
	raw := amount.Bytes()
	copy(word[constants.HashLen-len(raw):], raw)
	return word
}

func EncodeUint64As256(n uint64) []byte {
	word := make([]byte, constants.HashLen)
	binary.BigEndian.PutUint64(word[constants.HashLen-8:], n)
	return word
}

func AddressEqual(address1 Address, address2 Address) bool {
	return address1 == address2
}

func ToHex(address Address) AddressHex {
	return AddressHex(hex.EncodeToString(address[:]))
}

func AmountOrZero(amount TokenAmount) TokenAmount {
	if amount == nil {
		return new(big.Int)
	}
	return amount
}

func IsAmountZero(amount TokenAmount) bool {
	return amount == nil || amount.Sign() == 0
}

func CloneAmount(amount TokenAmount) TokenAmount {
	return new(big.Int).Set(AmountOrZero(amount))
}
