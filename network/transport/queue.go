package transport

import (
	"sync"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/messages"
)

// QueueItem is one unacknowledged outbound message. Expiration is set for
// withdraw requests so the retry loop can give up early, zero otherwise.
type QueueItem struct {
	Message      messages.Message
	MessageID    common.MessageID
	Expiration   common.BlockHeight
	SafetyMargin common.BlockHeight
}

// Queue is a bounded FIFO of unacknowledged messages for one recipient and
// channel. The retry loop always works on the head item.
type Queue struct {
	sync.RWMutex
	items       []*QueueItem
	capacity    uint32
	DataCh      chan struct{}
	DeliverChan chan common.MessageID
	kill        chan struct{}
	killOnce    sync.Once
}

func NewQueue(capacity uint32) *Queue {
	return &Queue{
		capacity:    capacity,
		DataCh:      make(chan struct{}, 1),
		DeliverChan: make(chan common.MessageID, 1),
		kill:        make(chan struct{}),
	}
}

func (self *Queue) Len() int {
	self.RLock()
	defer self.RUnlock()
	return len(self.items)
}

// Push appends unless the queue is full or the message id is already
// queued. The second return reports whether the item was a duplicate.
func (self *Queue) Push(item *QueueItem) (bool, bool) {
	self.Lock()
	defer self.Unlock()

	for _, queued := range self.items {
		if queued.MessageID == item.MessageID {
			return false, true
		}
	}
	if uint32(len(self.items)) >= self.capacity {
		return false, false
	}
	self.items = append(self.items, item)
	return true, false
}

func (self *Queue) Peek() (*QueueItem, bool) {
	self.RLock()
	defer self.RUnlock()

	if len(self.items) == 0 {
		return nil, false
	}
	return self.items[0], true
}

func (self *Queue) Pop() (*QueueItem, bool) {
	self.Lock()
	defer self.Unlock()

	if len(self.items) == 0 {
		return nil, false
	}
	item := self.items[0]
	self.items = self.items[1:]
	return item, true
}

// Remove drops a message wherever it sits in the queue.
func (self *Queue) Remove(messageID common.MessageID) bool {
	self.Lock()
	defer self.Unlock()

	for i, queued := range self.items {
		if queued.MessageID == messageID {
			self.items = append(self.items[:i], self.items[i+1:]...)
			return true
		}
	}
	return false
}

func (self *Queue) Kill() {
	self.killOnce.Do(func() {
		close(self.kill)
	})
}
