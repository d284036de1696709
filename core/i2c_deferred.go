package core

import (
	"sync"

	"tinygo.org/x/drivers"
)

type transferKind uint8

const (
	transferNone transferKind = iota
	transferWrite
	transferRead
)

// deferredTransfer is the single queued transfer for a bus
type deferredTransfer struct {
	kind transferKind
	addr I2CAddress
	data []byte
}

// deferredBus tracks one blocking bus and its queued transfer
type deferredBus struct {
	bus     drivers.I2C
	handler I2CCompletionHandler
	pending deferredTransfer
}

// DeferredI2C implements AsyncI2CDriver on top of blocking buses such as
// TinyGo's machine.I2C. Start calls queue at most one transfer per bus;
// Service performs queued transfers and dispatches their notifications.
type DeferredI2C struct {
	mu    sync.Mutex
	buses map[I2CBusID]*deferredBus
}

// NewDeferredI2C constructs an adapter with no buses attached
func NewDeferredI2C() *DeferredI2C {
	return &DeferredI2C{
		buses: make(map[I2CBusID]*deferredBus),
	}
}

// AttachBus binds a blocking bus to a bus ID. The bus must already be configured.
func (d *DeferredI2C) AttachBus(id I2CBusID, bus drivers.I2C) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, exists := d.buses[id]; exists {
		b.bus = bus
		return
	}
	d.buses[id] = &deferredBus{bus: bus}
}

// SetCompletionHandler registers the notification target for a bus
func (d *DeferredI2C) SetCompletionHandler(id I2CBusID, h I2CCompletionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.buses[id]
	if !exists {
		b = &deferredBus{}
		d.buses[id] = b
	}
	b.handler = h
}

// StartTransmit queues a write transfer
func (d *DeferredI2C) StartTransmit(id I2CBusID, addr I2CAddress, data []byte) bool {
	return d.queue(id, deferredTransfer{kind: transferWrite, addr: addr, data: data})
}

// StartReceive queues a read transfer into buf
func (d *DeferredI2C) StartReceive(id I2CBusID, addr I2CAddress, buf []byte) bool {
	return d.queue(id, deferredTransfer{kind: transferRead, addr: addr, data: buf})
}

func (d *DeferredI2C) queue(id I2CBusID, t deferredTransfer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.buses[id]
	if !exists || b.bus == nil {
		return false
	}
	// The bus is exclusive: one transfer in flight
	if b.pending.kind != transferNone {
		return false
	}
	b.pending = t
	return true
}

// Busy reports whether a transfer is queued on the bus
func (d *DeferredI2C) Busy(id I2CBusID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, exists := d.buses[id]
	return exists && b.pending.kind != transferNone
}

// Service performs the queued transfer on every bus and dispatches one
// notification per transfer. Notifications may queue the next transfer,
// which runs on the following Service call.
// Returns the number of transfers performed.
func (d *DeferredI2C) Service() int {
	d.mu.Lock()
	ids := make([]I2CBusID, 0, len(d.buses))
	for id := range d.buses {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	done := 0
	for _, id := range ids {
		if d.serviceBus(id) {
			done++
		}
	}
	return done
}

// serviceBus runs the queued transfer for one bus outside the lock, since the
// handler is allowed to call back into StartTransmit/StartReceive.
func (d *DeferredI2C) serviceBus(id I2CBusID) bool {
	d.mu.Lock()
	b, exists := d.buses[id]
	if !exists || b.pending.kind == transferNone {
		d.mu.Unlock()
		return false
	}
	t := b.pending
	b.pending = deferredTransfer{}
	bus := b.bus
	handler := b.handler
	d.mu.Unlock()

	var err error
	switch t.kind {
	case transferWrite:
		err = bus.Tx(uint16(t.addr), t.data, nil)
	case transferRead:
		err = bus.Tx(uint16(t.addr), nil, t.data)
	}

	if handler == nil {
		return true
	}
	if err != nil {
		handler.I2CTransferError(id, err)
		return true
	}
	if t.kind == transferWrite {
		handler.I2CTransmitComplete(id)
	} else {
		handler.I2CReceiveComplete(id)
	}
	return true
}
