package transfer

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"

	"github.com/rivulet-io/rivulet/common"
)

// State changes and events travel through the write-ahead log and the
// chain-state snapshot as {"type": name, "data": {...}} records. The
// registry below maps the tag back to a concrete type on restore.

type taggedRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var recordTypes = map[string]reflect.Type{}

func registerRecordType(values ...interface{}) {
	for _, value := range values {
		valueType := reflect.TypeOf(value).Elem()
		recordTypes[valueType.Name()] = valueType
	}
}

func init() {
	registerRecordType(
		&ActionInitNode{}, &Block{}, &ActionChannelOpen{}, &ActionChannelOpenFailed{},
		&ActionChannelClose{}, &ActionChannelSettle{}, &ActionWithdraw{},
		&ActionTransferInit{}, &ReceiveLockedTransfer{}, &ReceiveRefundTransfer{},
		&ReceiveSecretRequest{}, &ReceiveSecretReveal{}, &ReceiveUnlock{},
		&ReceiveLockExpired{}, &ReceiveProcessed{}, &ReceiveDelivered{},
		&ReceiveWithdrawRequest{}, &ReceiveWithdrawConfirmation{}, &ReceiveWithdrawExpired{},
		&ContractReceiveChannelNew{}, &ContractReceiveChannelClosed{},
		&ContractReceiveChannelSettled{}, &ContractReceiveChannelDeposit{},
		&ContractReceiveChannelWithdraw{}, &ContractReceiveSecretReveal{},
	)
	registerRecordType(
		&SendLockedTransfer{}, &SendProcessed{}, &SendSecretRequest{},
		&SendSecretReveal{}, &SendBalanceProof{}, &SendLockExpired{},
		&SendWithdrawRequest{}, &SendWithdrawConfirmation{}, &SendWithdrawExpired{},
		&ContractSendChannelClose{}, &ContractSendChannelSettle{},
		&ContractSendChannelWithdraw{}, &ContractSendSecretReveal{},
		&EventPaymentSentSuccess{}, &EventPaymentSentFailed{},
		&EventPaymentReceivedSuccess{}, &EventChannelOpened{}, &EventChannelClosed{},
		&EventChannelSettled{}, &EventChannelDeposit{}, &EventChannelWithdraw{},
		&EventWithdrawFailed{},
	)
}

func marshalTagged(value interface{}) ([]byte, error) {
	valueType := reflect.TypeOf(value)
	if valueType == nil || valueType.Kind() != reflect.Ptr {
		return nil, errors.Errorf("cannot serialize %T", value)
	}
	name := valueType.Elem().Name()
	if _, exist := recordTypes[name]; !exist {
		return nil, errors.Errorf("unregistered record type %s", name)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&taggedRecord{Type: name, Data: data})
}

func unmarshalTagged(data []byte) (interface{}, error) {
	var record taggedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	recordType, exist := recordTypes[record.Type]
	if !exist {
		return nil, errors.Errorf("unknown record type %s", record.Type)
	}
	value := reflect.New(recordType).Interface()
	if err := json.Unmarshal(record.Data, value); err != nil {
		return nil, err
	}
	return value, nil
}

func MarshalStateChange(stateChange StateChange) ([]byte, error) {
	return marshalTagged(stateChange)
}

func UnmarshalStateChange(data []byte) (StateChange, error) {
	value, err := unmarshalTagged(data)
	if err != nil {
		return nil, err
	}
	stateChange, ok := value.(StateChange)
	if !ok {
		return nil, errors.Errorf("record %T is not a state change", value)
	}
	return stateChange, nil
}

func MarshalEvent(event Event) ([]byte, error) {
	return marshalTagged(event)
}

func UnmarshalEvent(data []byte) (Event, error) {
	value, err := unmarshalTagged(data)
	if err != nil {
		return nil, err
	}
	event, ok := value.(Event)
	if !ok {
		return nil, errors.Errorf("record %T is not an event", value)
	}
	return event, nil
}

// EventList carries its element types through JSON so queued send events
// survive a snapshot round trip.
type EventList []Event

func (self EventList) MarshalJSON() ([]byte, error) {
	records := make([]json.RawMessage, 0, len(self))
	for _, event := range self {
		record, err := MarshalEvent(event)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return json.Marshal(records)
}

func (self *EventList) UnmarshalJSON(data []byte) error {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	events := make(EventList, 0, len(records))
	for _, record := range records {
		event, err := UnmarshalEvent(record)
		if err != nil {
			return err
		}
		events = append(events, event)
	}
	*self = events
	return nil
}

// MarshalSnapshot serializes the full chain state for a snapshot row.
func MarshalSnapshot(chainState *ChainState) ([]byte, error) {
	return json.Marshal(chainState)
}

func UnmarshalSnapshot(data []byte) (*ChainState, error) {
	chainState := &ChainState{}
	if err := json.Unmarshal(data, chainState); err != nil {
		return nil, err
	}
	if chainState.Channels == nil {
		chainState.Channels = make(map[ChannelKey]*ChannelState)
	}
	if chainState.ChannelsByID == nil {
		chainState.ChannelsByID = make(map[common.ChannelID]ChannelKey)
	}
	if chainState.Transfers == nil {
		chainState.Transfers = make(map[TransferKey]*TransferState)
	}
	if chainState.SecretRegistry == nil {
		chainState.SecretRegistry = make(map[common.SecretHash]*RegisteredSecret)
	}
	if chainState.QueueIdsToQueues == nil {
		chainState.QueueIdsToQueues = make(map[QueueIdentifier]EventList)
	}
	return chainState, nil
}
