package client

import (
	"time"

	"github.com/ontio/ontology-eventbus/actor"
	"github.com/pkg/errors"
	"github.com/saveio/themis/common/log"

	"github.com/rivulet-io/rivulet/common"
	"github.com/rivulet-io/rivulet/common/constants"
	"github.com/rivulet-io/rivulet/messages"
)

// The p2p process runs as a separate actor. Outbound messages are handed
// over through its PID, already encoded to the canonical wire form.

var p2pPid *actor.PID

func SetP2pPid(pid *actor.PID) {
	p2pPid = pid
}

type P2pSendReq struct {
	Address common.Address
	Data    []byte
}

type P2pSendResp struct {
	Error error
}

type P2pConnectReq struct {
	Address common.Address
}

type P2pConnectResp struct {
	Error error
}

// P2pSend encodes and hands one message to the p2p actor, waiting for its
// delivery report.
func P2pSend(address common.Address, msg messages.Message) error {
	if p2pPid == nil {
		return errors.New("p2p actor is not registered")
	}
	data, err := messages.Encode(msg)
	if err != nil {
		return errors.Wrapf(err, "encode %T", msg)
	}

	future := p2pPid.RequestFuture(&P2pSendReq{Address: address, Data: data},
		constants.ReqTimeout*time.Second)
	result, err := future.Result()
	if err != nil {
		log.Errorf("p2p send to %v failed: %s", address, err)
		return errors.Wrap(err, "p2p send")
	}
	resp, ok := result.(*P2pSendResp)
	if !ok {
		return errors.Errorf("unexpected p2p response %T", result)
	}
	return resp.Error
}

// P2pConnect asks the p2p actor to dial a peer ahead of time.
func P2pConnect(address common.Address) error {
	if p2pPid == nil {
		return errors.New("p2p actor is not registered")
	}
	future := p2pPid.RequestFuture(&P2pConnectReq{Address: address},
		constants.ReqTimeout*time.Second)
	result, err := future.Result()
	if err != nil {
		return errors.Wrap(err, "p2p connect")
	}
	resp, ok := result.(*P2pConnectResp)
	if !ok {
		return errors.Errorf("unexpected p2p response %T", result)
	}
	return resp.Error
}
