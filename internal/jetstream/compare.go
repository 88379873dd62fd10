package jetstream

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual compares the stream properties this service manages.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage &&
		slices.Equal(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual compares the consumer properties this service manages.
// DeliverSubject is ignored since push consumers get a fresh inbox per boot.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.DeliverGroup == b.DeliverGroup &&
		a.AckPolicy == b.AckPolicy &&
		a.AckWait == b.AckWait &&
		a.FilterSubject == b.FilterSubject &&
		slices.Equal(a.FilterSubjects, b.FilterSubjects) &&
		a.MaxDeliver == b.MaxDeliver
}
