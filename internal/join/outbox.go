package join

import "github.com/ashureev/onboarding-voice/internal/voice"

// outbox is the controller listener of one socket. Screen updates coalesce
// into a single pending render of the latest state; alerts queue. Callbacks
// never block.
type outbox struct {
	dirty  chan struct{}
	alerts chan voice.Alert
	pongs  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		dirty:  make(chan struct{}, 1),
		alerts: make(chan voice.Alert, alertQueueSize),
		pongs:  make(chan struct{}, 1),
	}
}

// OnUpdate implements voice.Listener.
func (o *outbox) OnUpdate(voice.Snapshot) {
	o.markDirty()
}

// OnAlert implements voice.Listener.
func (o *outbox) OnAlert(a voice.Alert) {
	select {
	case o.alerts <- a:
	default:
	}
}

func (o *outbox) markDirty() {
	select {
	case o.dirty <- struct{}{}:
	default:
	}
}

func (o *outbox) pong() {
	select {
	case o.pongs <- struct{}{}:
	default:
	}
}
