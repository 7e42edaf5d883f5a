package common

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"
)

// Account wraps the secp256k1 key a node signs protocol messages with. The
// signer may live behind a slower wallet in other deployments; everything
// above this type only assumes Sign can block.
type Account struct {
	privKey *btcec.PrivateKey
	address Address
}

func NewAccount(privKeyBytes []byte) (*Account, error) {
	if len(privKeyBytes) != 32 {
		return nil, errors.Errorf("invalid private key length %d", len(privKeyBytes))
	}
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	return &Account{
		privKey: privKey,
		address: PubKeyToAddress(privKey.PubKey()),
	}, nil
}

func GenerateAccount() (*Account, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate account")
	}
	return &Account{
		privKey: privKey,
		address: PubKeyToAddress(privKey.PubKey()),
	}, nil
}

func (self *Account) Address() Address {
	return self.address
}

// Sign produces a recoverable signature over the signed-message digest of
// data, in r||s||v form with v in {27, 28}.
func (self *Account) Sign(data []byte) (Signature, error) {
	return SignData(self.privKey, data)
}

func (self *Account) GetPublicKey() PubKey {
	return self.privKey.PubKey().SerializeUncompressed()
}
