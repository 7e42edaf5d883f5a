package transport

import (
	"testing"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
	"github.com/rivulet-io/rivulet/transfer"
)

func testQueueID() transfer.QueueIdentifier {
	return transfer.QueueIdentifier{
		Recipient: common.Address{0x02},
		ChannelID: 7,
	}
}

func TestSendAsyncDeduplicatesByMessageID(t *testing.T) {
	tr := NewTransport(nil)
	defer tr.Stop()

	queueID := testQueueID()
	message := &messages.Processed{MessageID: 42}

	if err := tr.SendAsync(queueID, message, 0, 0); err != nil {
		t.Fatal(err)
	}
	// a retry of the same message id must not queue twice
	if err := tr.SendAsync(queueID, message, 0, 0); err != nil {
		t.Fatal(err)
	}
	if got := tr.GetQueue(queueID).Len(); got != 1 {
		t.Fatalf("queue length %d, want 1", got)
	}
}

func TestSendAsyncRequiresMessageID(t *testing.T) {
	tr := NewTransport(nil)
	defer tr.Stop()

	if err := tr.SendAsync(testQueueID(), &messages.Processed{}, 0, 0); err == nil {
		t.Fatal("message without an id was queued")
	}
}

func TestQueuePushPopRemove(t *testing.T) {
	queue := NewQueue(4)

	for id := common.MessageID(1); id <= 3; id++ {
		pushed, duplicate := queue.Push(&QueueItem{MessageID: id})
		if !pushed || duplicate {
			t.Fatalf("push %d: pushed=%v duplicate=%v", id, pushed, duplicate)
		}
	}
	if pushed, duplicate := queue.Push(&QueueItem{MessageID: 2}); pushed || !duplicate {
		t.Fatal("duplicate message id was accepted")
	}

	// out of order ack removes from the middle
	if !queue.Remove(2) {
		t.Fatal("queued message was not removable")
	}
	if queue.Remove(2) {
		t.Fatal("removed message was removable twice")
	}

	item, ok := queue.Pop()
	if !ok || item.MessageID != 1 {
		t.Fatalf("popped %+v, want message 1", item)
	}
	item, ok = queue.Pop()
	if !ok || item.MessageID != 3 {
		t.Fatalf("popped %+v, want message 3", item)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue length %d after drain, want 0", queue.Len())
	}
}

func TestQueueCapacity(t *testing.T) {
	queue := NewQueue(1)
	if pushed, _ := queue.Push(&QueueItem{MessageID: 1}); !pushed {
		t.Fatal("first push rejected")
	}
	if pushed, duplicate := queue.Push(&QueueItem{MessageID: 2}); pushed || duplicate {
		t.Fatal("push beyond capacity accepted")
	}
}

func TestDropDoomedItems(t *testing.T) {
	currentBlock := common.BlockHeight(100)
	tr := NewTransport(func() common.BlockHeight { return currentBlock })
	defer tr.Stop()

	queue := NewQueue(8)
	// expiration 140 with a 50 block margin is already doomed at block 100
	queue.Push(&QueueItem{MessageID: 1, Expiration: 140, SafetyMargin: 50})
	// expiration zero marks a message that never expires
	queue.Push(&QueueItem{MessageID: 2})

	tr.dropDoomedItems(queue)

	if queue.Len() != 1 {
		t.Fatalf("queue length %d after drop, want 1", queue.Len())
	}
	item, _ := queue.Peek()
	if item.MessageID != 2 {
		t.Fatalf("surviving message %d, want 2", item.MessageID)
	}

	// the scan stops at the first safe head
	queue.Push(&QueueItem{MessageID: 3, Expiration: 200, SafetyMargin: 50})
	tr.dropDoomedItems(queue)
	if queue.Len() != 2 {
		t.Fatalf("queue length %d, want 2", queue.Len())
	}
}
