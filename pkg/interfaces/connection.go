package interfaces

// Channel is a live connection handle held in a relay slot.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// so the relay can be exercised with in-memory channels in tests
type Channel interface {
	// WriteJSON queues a JSON-encoded envelope for the client (thread-safe)
	WriteJSON(v interface{}) error

	// WriteText queues a raw text frame, used for verbatim relay payloads
	WriteText(data []byte) error

	// Close closes the connection and cleans up resources
	Close() error
}
