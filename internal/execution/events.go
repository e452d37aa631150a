package execution

// HopState is the per-hop execution lifecycle. Transitions only move
// forward; Succeeded and Failed are terminal.
type HopState string

const (
	HopIdle              HopState = "idle"
	HopAwaitingSignature HopState = "awaiting_signature"
	HopBroadcasting      HopState = "broadcasting"
	HopConfirming        HopState = "confirming"
	HopSucceeded         HopState = "succeeded"
	HopFailed            HopState = "failed"
)

func (s HopState) Terminal() bool {
	return s == HopSucceeded || s == HopFailed
}

type EventType string

const (
	// EventSellTxSubmitted fires once the hop's transaction is broadcast
	// (or its signed order accepted by the provider).
	EventSellTxSubmitted EventType = "sell_tx_submitted"
	// EventStatusUpdate fires during confirmation polling. A non-empty
	// BuyTxHash marks the destination-side transaction being observed.
	EventStatusUpdate EventType = "status_update"
	EventSucceeded    EventType = "succeeded"
	EventFailed       EventType = "failed"
	// EventError is a transport/unexpected fault: terminal like
	// EventFailed, but carries the cause for diagnostics.
	EventError EventType = "error"
)

// Event is one message on a hop's execution stream. It carries the hop index
// and all needed context as payload, so consumers never rely on captured
// state.
type Event struct {
	HopIndex  int
	Type      EventType
	TxHash    string
	BuyTxHash string
	Message   string
	Err       error
}

func (e Event) Terminal() bool {
	return e.Type == EventSucceeded || e.Type == EventFailed || e.Type == EventError
}
