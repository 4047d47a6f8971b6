package viewport

import (
	"errors"
	"sync"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

var errSendFailed = errors.New("simulated send failure")

type sent struct {
	peerID string
	msg    protocol.Message
}

// recordingSender records every delivery attempt and fails for peers in fail.
type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fail: make(map[string]bool)}
}

func (r *recordingSender) Send(peerID string, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{peerID: peerID, msg: msg})
	if r.fail[peerID] {
		return errSendFailed
	}
	return nil
}

func (r *recordingSender) failFor(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[peerID] = true
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// recipients returns peers that were sent an update, in delivery order.
func (r *recordingSender) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		out = append(out, s.peerID)
	}
	return out
}

// lastUpdate returns the most recent update sent to peerID.
func (r *recordingSender) lastUpdate(peerID string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].peerID == peerID && r.sent[i].msg.Name == protocol.CmdUpdate {
			return r.sent[i].msg.Arg(0).(Update), true
		}
	}
	return Update{}, false
}
