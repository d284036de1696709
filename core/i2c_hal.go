package core

// I2CBusID identifies a specific I2C bus (e.g., I2C0, I2C1).
type I2CBusID uint8

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// I2CCompletionHandler receives transfer notifications for one bus.
// Implementations run in interrupt context (or the main-loop service call that
// stands in for it) and must not block.
type I2CCompletionHandler interface {
	// I2CTransmitComplete is called exactly once per accepted StartTransmit.
	I2CTransmitComplete(bus I2CBusID)

	// I2CReceiveComplete is called exactly once per accepted StartReceive,
	// after the receive buffer has been filled.
	I2CReceiveComplete(bus I2CBusID)

	// I2CTransferError replaces the completion call when an accepted transfer fails on the wire.
	I2CTransferError(bus I2CBusID, err error)
}

// AsyncI2CDriver is the non-blocking I2C interface used by the angle sensor.
// Start calls only queue a transfer; completion is reported through the
// handler registered for the bus.
type AsyncI2CDriver interface {
	// StartTransmit queues a write of data to addr. Returns false if the
	// transfer could not be issued (bus busy or not configured).
	StartTransmit(bus I2CBusID, addr I2CAddress, data []byte) bool

	// StartReceive queues a read of len(buf) bytes from addr into buf.
	// Returns false if the transfer could not be issued.
	StartReceive(bus I2CBusID, addr I2CAddress, buf []byte) bool

	// SetCompletionHandler registers the notification target for a bus.
	SetCompletionHandler(bus I2CBusID, h I2CCompletionHandler)
}
