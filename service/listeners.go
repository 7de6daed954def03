package service

import (
	"fmt"

	"github.com/hannahhoward/go-pubsub"
)

// dispatchCompleteEvt records the outcome of one inbound request after the
// Dispatcher has run, independent of the eventbus's peer/export lifecycle
// events. Grounded on the teacher's payments.msgListeners (newMsgListeners
// in channel.go): a pubsub.PubSub typed to one event struct, with a
// package-private subscriberFn doing the type assertion pubsub itself
// can't.
type dispatchCompleteEvt struct {
	opcode string
	peer   string
	err    error
}

type dispatchSubscriberFn func(dispatchCompleteEvt)

type dispatchListeners struct {
	ps *pubsub.PubSub
}

func newDispatchListeners() dispatchListeners {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(dispatchCompleteEvt)
		if !ok {
			return fmt.Errorf("wrong type of event")
		}
		sub, ok := subFn.(dispatchSubscriberFn)
		if !ok {
			return fmt.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})
	return dispatchListeners{ps: ps}
}

// OnDispatchComplete registers cb to run after every dispatched request,
// successful or not. Used by Stats-adjacent monitoring; not part of the
// wire protocol.
func (dl *dispatchListeners) OnDispatchComplete(cb func(opcode, peer string, err error)) pubsub.Unsubscribe {
	var fn dispatchSubscriberFn = func(evt dispatchCompleteEvt) {
		cb(evt.opcode, evt.peer, evt.err)
	}
	return dl.ps.Subscribe(fn)
}

func (dl *dispatchListeners) fireDispatchComplete(opcode, peer string, err error) {
	if e := dl.ps.Publish(dispatchCompleteEvt{opcode: opcode, peer: peer, err: err}); e != nil {
		fmt.Printf("unexpected error publishing dispatch complete: %s", e)
	}
}
