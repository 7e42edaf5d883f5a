package messages

import (
	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/common"
)

// Sign packs the message and attaches the account's signature. Signing an
// already signed message leaves it unchanged.
func Sign(account *common.Account, message SignedMessage) error {
	if len(message.GetSignature()) != 0 {
		return nil
	}
	signature, err := account.Sign(message.DataToSign())
	if err != nil {
		return errors.Wrapf(err, "sign %s", message.Type())
	}
	message.SetSignature(signature)
	return nil
}

// SignerAddress recovers the address that signed the message.
func SignerAddress(message SignedMessage) (common.Address, error) {
	signature := message.GetSignature()
	if len(signature) == 0 {
		return common.EmptyAddress, errors.Errorf("%s message is not signed", message.Type())
	}
	return common.RecoverAddress(message.DataToSign(), signature)
}

// Verify recovers the signer and, when an expected sender is supplied,
// requires them to match.
func Verify(message SignedMessage, expectedSender *common.Address) (common.Address, error) {
	signer, err := SignerAddress(message)
	if err != nil {
		return common.EmptyAddress, err
	}
	if expectedSender != nil && !common.AddressEqual(signer, *expectedSender) {
		return common.EmptyAddress, errors.Errorf("%s message signer does not match the expected sender",
			message.Type())
	}
	return signer, nil
}
