package service

import (
	"sync"

	"github.com/getAlby/lncheckout/db/models"
	"github.com/google/uuid"
)

// AllInvoicesTopic receives every published invoice, whatever its id.
const AllInvoicesTopic = "*"

type Pubsub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan models.Invoice
}

func NewPubsub() *Pubsub {
	ps := &Pubsub{}
	ps.subs = make(map[string]map[string]chan models.Invoice)
	return ps
}

// Subscribe registers ch for an invoice id or AllInvoicesTopic.
func (ps *Pubsub) Subscribe(topic string, ch chan models.Invoice) (subId string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[string]chan models.Invoice)
	}
	subId = uuid.NewString()
	ps.subs[topic][subId] = ch
	return subId
}

func (ps *Pubsub) Unsubscribe(id string, topic string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		return
	}
	if ps.subs[topic][id] == nil {
		return
	}
	close(ps.subs[topic][id])
	delete(ps.subs[topic], id)
	if len(ps.subs[topic]) == 0 {
		delete(ps.subs, topic)
	}
}

// Publish never blocks the writer: a subscriber whose buffer is full misses the message.
// It returns how many subscribers were skipped.
func (ps *Pubsub) Publish(msg models.Invoice) (dropped int) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, topic := range []string{msg.ID, AllInvoicesTopic} {
		for _, ch := range ps.subs[topic] {
			select {
			case ch <- msg:
			default:
				dropped++
			}
		}
	}
	return dropped
}
