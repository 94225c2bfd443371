package partition

import "fmt"

// ConsumerKind distinguishes an individual consumer's private offset from a
// consumer group's shared offset (spec §4.4 "get_next_messages has an
// individual-consumer variant and a consumer-group variant").
type ConsumerKind int

const (
	ConsumerIndividual ConsumerKind = iota
	ConsumerGroup
)

// PollingConsumer identifies whoever is asking for "next" messages, mirroring
// the original's PollingConsumer::Consumer/ConsumerGroup split
// (original_source/server/src/streaming/partitions/messages.rs).
type PollingConsumer struct {
	Kind ConsumerKind
	ID   string
}

func (c PollingConsumer) key() string {
	return fmt.Sprintf("%d:%s", c.Kind, c.ID)
}
