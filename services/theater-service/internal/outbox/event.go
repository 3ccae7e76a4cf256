package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the theater service.
const (
	EventAllocationBooked        = "theater.allocation.booked.v1"
	EventAllocationStatusChanged = "theater.allocation.status_changed.v1"
	EventAllocationCancelled     = "theater.allocation.cancelled.v1"
	EventAllocationReleased      = "theater.allocation.released.v1"
)
