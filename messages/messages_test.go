package messages

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"

	"github.com/rivulet-io/rivulet/common"
)

func newTestAccount(t *testing.T) *common.Account {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	account, err := common.NewAccount(key)
	if err != nil {
		t.Fatal(err)
	}
	return account
}

func buildLockedTransfer() *LockedTransfer {
	var secretHash common.SecretHash
	secretHash[0] = 0x11

	transfer := &LockedTransfer{
		EnvelopeMessage: EnvelopeMessage{
			ChainID:             1,
			Nonce:               1,
			TokenNetworkAddress: common.TokenNetworkAddress{0xBB},
			ChannelID:           7,
			TransferredAmount:   big.NewInt(0),
			LockedAmount:        big.NewInt(100),
		},
		MessageID: 12345,
		PaymentID: 9,
		Token:     common.TokenAddress{0xAA},
		Recipient: common.Address{0x02},
		Target:    common.Address{0x02},
		Initiator: common.Address{0x01},
		Lock: &Lock{
			Amount:     big.NewInt(100),
			Expiration: 110,
			SecretHash: secretHash,
		},
		Metadata: &Metadata{
			Routes: []RouteMetadata{
				{Route: []common.Address{{0x01}, {0x02}}},
			},
		},
	}
	transfer.Locksroot[0] = 0x33
	return transfer
}

func TestSignAndVerify(t *testing.T) {
	account := newTestAccount(t)
	transfer := buildLockedTransfer()

	if err := Sign(account, transfer); err != nil {
		t.Fatal(err)
	}
	if len(transfer.Signature) != 65 {
		t.Fatalf("signature length %d, want 65", len(transfer.Signature))
	}

	signer, err := Verify(transfer, nil)
	if err != nil {
		t.Fatal(err)
	}
	if signer != account.Address() {
		t.Fatalf("recovered %v, want %v", signer, account.Address())
	}

	expected := account.Address()
	if _, err := Verify(transfer, &expected); err != nil {
		t.Fatal(err)
	}

	wrong := common.Address{0x99}
	if _, err := Verify(transfer, &wrong); err == nil {
		t.Fatal("verification against the wrong sender passed")
	}
}

func TestSignIsIdempotent(t *testing.T) {
	account := newTestAccount(t)
	transfer := buildLockedTransfer()

	if err := Sign(account, transfer); err != nil {
		t.Fatal(err)
	}
	first := append(common.Signature{}, transfer.Signature...)

	if err := Sign(account, transfer); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, transfer.Signature) {
		t.Fatal("re-signing changed the signature")
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	account := newTestAccount(t)
	transfer := buildLockedTransfer()
	if err := Sign(account, transfer); err != nil {
		t.Fatal(err)
	}
	transfer.Nonce++

	expected := account.Address()
	if _, err := Verify(transfer, &expected); err == nil {
		t.Fatal("verification passed after the payload changed")
	}
}

func TestLockedTransferWireRoundTrip(t *testing.T) {
	original := buildLockedTransfer()
	original.Signature = bytes.Repeat([]byte{0x01}, 65)

	encoded, err := Encode(original)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestWithdrawRequestWireRoundTripBigAmount(t *testing.T) {
	amount, ok := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	if !ok {
		t.Fatal("bad literal")
	}
	original := &WithdrawRequest{
		ChainID:             1,
		MessageID:           42,
		TokenNetworkAddress: common.TokenNetworkAddress{0xBB},
		ChannelID:           7,
		Participant:         common.Address{0x01},
		TotalWithdraw:       amount,
		Nonce:               3,
		Expiration:          9000,
		Signature:           bytes.Repeat([]byte{0x02}, 65),
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	roundTripped, ok := decoded.(*WithdrawRequest)
	if !ok {
		t.Fatalf("decoded %T, want WithdrawRequest", decoded)
	}
	if roundTripped.TotalWithdraw.Cmp(amount) != 0 {
		t.Fatalf("total withdraw %s, want %s", roundTripped.TotalWithdraw, amount)
	}
	if !reflect.DeepEqual(original, roundTripped) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", roundTripped, original)
	}
}

func TestWithdrawPayloadsDiffer(t *testing.T) {
	request := &WithdrawRequest{
		ChainID:             1,
		MessageID:           42,
		TokenNetworkAddress: common.TokenNetworkAddress{0xBB},
		ChannelID:           7,
		Participant:         common.Address{0x01},
		TotalWithdraw:       big.NewInt(200),
		Nonce:               3,
		Expiration:          9000,
	}
	confirmation := &WithdrawConfirmation{
		ChainID:             request.ChainID,
		MessageID:           request.MessageID,
		TokenNetworkAddress: request.TokenNetworkAddress,
		ChannelID:           request.ChannelID,
		Participant:         request.Participant,
		TotalWithdraw:       request.TotalWithdraw,
		Nonce:               request.Nonce,
		Expiration:          request.Expiration,
	}
	// both sides sign the same withdraw commitment
	if !bytes.Equal(request.DataToSign(), confirmation.DataToSign()) {
		t.Fatal("request and confirmation sign different payloads")
	}

	expired := &WithdrawExpired{
		ChainID:             request.ChainID,
		MessageID:           request.MessageID,
		TokenNetworkAddress: request.TokenNetworkAddress,
		ChannelID:           request.ChannelID,
		Participant:         request.Participant,
		TotalWithdraw:       request.TotalWithdraw,
		Nonce:               request.Nonce,
		Expiration:          request.Expiration,
	}
	if bytes.Equal(request.DataToSign(), expired.DataToSign()) {
		t.Fatal("withdraw expired signs the same payload as the request")
	}
}

func TestMessageIdentifier(t *testing.T) {
	transfer := buildLockedTransfer()
	if id := MessageIdentifier(transfer); id != 12345 {
		t.Fatalf("locked transfer id %d, want 12345", id)
	}
	delivered := &Delivered{DeliveredMessageID: 77}
	if id := MessageIdentifier(delivered); id != 77 {
		t.Fatalf("delivered id %d, want 77", id)
	}
}
