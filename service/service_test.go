package service

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/storage"
	"github.com/rivulet-io/rivulet/transfer"
)

func newTestService(t *testing.T) *ChannelService {
	t.Helper()
	account, err := common.NewAccount(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return NewChannelService(account, 1, common.TokenAddress{0xAA},
		common.TokenNetworkAddress{0xBB}, nil, "")
}

func TestSignReusesCachedSignature(t *testing.T) {
	service := newTestService(t)

	first := &messages.Delivered{DeliveredMessageID: 42}
	if err := service.Sign(first); err != nil {
		t.Fatal(err)
	}
	if len(first.Signature) != 65 {
		t.Fatalf("signature length %d, want 65", len(first.Signature))
	}

	// the regenerated ack for a re-received message signs the same payload
	second := &messages.Delivered{DeliveredMessageID: 42}
	if err := service.Sign(second); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Signature, second.Signature) {
		t.Fatal("identical payloads got different signatures")
	}

	other := &messages.Delivered{DeliveredMessageID: 43}
	if err := service.Sign(other); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first.Signature, other.Signature) {
		t.Fatal("different payloads share a signature")
	}
}

func TestSignLeavesSignedMessageUntouched(t *testing.T) {
	service := newTestService(t)

	message := &messages.Delivered{DeliveredMessageID: 42}
	if err := service.Sign(message); err != nil {
		t.Fatal(err)
	}
	signature := append(common.Signature{}, message.Signature...)
	if err := service.Sign(message); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(signature, message.Signature) {
		t.Fatal("re-signing changed the signature")
	}
}

func TestPaymentStatusRegistry(t *testing.T) {
	service := newTestService(t)
	target := common.Address{0x02}

	status := &PaymentStatus{
		Target:      target,
		PaymentID:   9,
		paymentDone: make(chan bool, 1),
	}
	if err := service.RegisterPaymentStatus(target, 9, status); err != nil {
		t.Fatal(err)
	}
	if err := service.RegisterPaymentStatus(target, 9, status); err != ErrTransferAlreadyPending {
		t.Fatalf("duplicate registration returned %v, want ErrTransferAlreadyPending", err)
	}

	got, exist := service.GetPaymentStatus(target, 9)
	if !exist || got != status {
		t.Fatal("registered status was not found")
	}

	service.RemovePaymentStatus(target, 9)
	if _, exist := service.GetPaymentStatus(target, 9); exist {
		t.Fatal("removed status is still registered")
	}
	if err := service.RegisterPaymentStatus(target, 9, status); err != nil {
		t.Fatalf("re-registration after removal failed: %v", err)
	}
}

func TestStatusEventSubscription(t *testing.T) {
	service := newTestService(t)

	subscription := service.SubscribeStatusEvents()
	event := &transfer.EventChannelOpened{ChannelID: 7}
	service.notifyStatusEvent(event)

	select {
	case got := <-subscription:
		if got != transfer.Event(event) {
			t.Fatalf("received %+v, want the published event", got)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	service.UnsubscribeStatusEvents(subscription)
	service.notifyStatusEvent(&transfer.EventChannelOpened{ChannelID: 8})
	select {
	case got := <-subscription:
		t.Fatalf("unsubscribed channel received %+v", got)
	default:
	}
}

// gatedEventHandler parks every effect until released, so a test can
// observe which workers reach effect execution at the same time.
type gatedEventHandler struct {
	entered chan transfer.Event
	release chan struct{}
}

func (self *gatedEventHandler) OnChannelEvent(service *ChannelService, event transfer.Event) {
	self.entered <- event
	<-self.release
}

func TestEffectsForDistinctChannelsRunConcurrently(t *testing.T) {
	service := newTestService(t)

	sqliteStorage, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "channel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqliteStorage.Close() })
	wal, err := storage.RestoreToLatest(transfer.StateTransition, sqliteStorage)
	if err != nil {
		t.Fatal(err)
	}
	service.Wal = wal

	wal.LogAndDispatch(&transfer.ActionInitNode{
		Address:     service.address,
		ChainID:     1,
		BlockHeight: 10,
	})
	partners := []common.Address{{0x01}, {0x02}}
	for i, partner := range partners {
		wal.LogAndDispatch(&transfer.ContractReceiveChannelNew{
			ChannelID:           common.ChannelID(i + 1),
			TokenAddress:        common.TokenAddress{0xAA},
			TokenNetworkAddress: common.TokenNetworkAddress{0xBB},
			Participant1:        service.address,
			Participant2:        partner,
			SettleTimeout:       500,
			BlockHeight:         10,
		})
	}

	handler := &gatedEventHandler{
		entered: make(chan transfer.Event, 2),
		release: make(chan struct{}),
	}
	service.channelEventHandler = handler

	done := make(chan struct{}, 2)
	for i, partner := range partners {
		go func(channelID common.ChannelID, partner common.Address) {
			service.DispatchToPartner(partner, &transfer.ActionChannelClose{ChannelID: channelID})
			done <- struct{}{}
		}(common.ChannelID(i+1), partner)
	}

	// both effects must start while neither has finished
	for i := 0; i < 2; i++ {
		select {
		case <-handler.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("effect execution blocked behind another channel's effect")
		}
	}
	close(handler.release)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch did not return after release")
		}
	}
}
