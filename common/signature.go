package common

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/common/constants"
)

const signedMessagePrefix = "\x19Ethereum Signed Message:\n"

// SignedMessageDigest is the digest actually signed: the keccak256 of the
// prefixed payload, matching what the counterpart network verifies.
func SignedMessageDigest(data []byte) []byte {
	prefix := []byte(fmt.Sprintf("%s%d", signedMessagePrefix, len(data)))
	digest := Keccak256Hash(prefix, data)
	return digest[:]
}

func SignData(privKey *btcec.PrivateKey, data []byte) (Signature, error) {
	digest := SignedMessageDigest(data)
	compact := btcecdsa.SignCompact(privKey, digest, false)

	// compact form leads with the recovery byte, the wire carries it last
	signature := make([]byte, 65)
	copy(signature[:64], compact[1:])
	signature[64] = compact[0]
	return signature, nil
}

// RecoverAddress returns the address whose key produced signature over data.
func RecoverAddress(data []byte, signature Signature) (Address, error) {
	if len(signature) != 65 {
		return EmptyAddress, errors.Errorf("invalid signature length %d", len(signature))
	}

	compact := make([]byte, 65)
	compact[0] = signature[64]
	if compact[0] < 27 {
		compact[0] += 27
	}
	copy(compact[1:], signature[:64])

	digest := SignedMessageDigest(data)
	pubKey, _, err := btcecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return EmptyAddress, errors.Wrap(err, "recover signer")
	}
	return PubKeyToAddress(pubKey), nil
}

// VerifySignature checks that signature over data recovers to sender.
func VerifySignature(data []byte, signature Signature, sender Address) error {
	signer, err := RecoverAddress(data, signature)
	if err != nil {
		return err
	}
	if !AddressEqual(signer, sender) {
		return errors.New("signature valid but signer does not match the expected address")
	}
	return nil
}

func PubKeyToAddress(pubKey *btcec.PublicKey) Address {
	var address Address

	uncompressed := pubKey.SerializeUncompressed()
	digest := Keccak256Hash(uncompressed[1:])
	copy(address[:], digest[constants.HashLen-constants.AddrLen:])
	return address
}
