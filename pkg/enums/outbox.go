package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateCreditPackage OutboxAggregateType = "credit_package"
)

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventCreditConsumed     OutboxEventType = "credit_consumed"
	EventLyricsGenerated    OutboxEventType = "lyrics_generated"
	EventLyricsApproved     OutboxEventType = "lyrics_approved"
	EventOrderStuckDetected OutboxEventType = "order_stuck_detected"
	EventMusicReady         OutboxEventType = "music_ready"
)

// OutboxEventTypes lists every event the publisher knows how to route.
var OutboxEventTypes = []OutboxEventType{
	EventCreditConsumed,
	EventLyricsGenerated,
	EventLyricsApproved,
	EventOrderStuckDetected,
	EventMusicReady,
}

func (e OutboxEventType) IsValid() bool {
	return known(OutboxEventTypes, e)
}
