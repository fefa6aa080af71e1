// Package events provides the two event buses of the reservation core.
//
// DomainBus is synchronous and in-process. The unit of work dispatches the
// domain events of an aggregate to it after the transaction committed, in the
// order they were raised. Handler failures are returned joined and never undo
// the commit.
//
// IntegrationBus is asynchronous with at-least-once delivery. Integration
// events are written to the outbox table in the same transaction as the change
// that raised them. A relay claims committed rows and publishes them to a
// Transport; a pool of workers consumes the transport and runs the subscribed
// handlers:
//
//	commit -> outbox (pending) -> relay -> transport -> worker -> handlers
//	                                                      |
//	                        delivered <- ok ---------------+
//	                        pending + backoff <- error (attempt < MaxDeliveries)
//	                        dead <- error (attempt == MaxDeliveries)
//
// Rows left published by a crashed process are returned to pending when Run
// starts. Two transports exist: MemoryTransport here, and the RabbitMQ transport
// in package mq.
package events
