// Package cep exposes a continuous-query engine as gopipe-cep endpoints.
//
// An [Endpoint] owns at most one query on its [Engine]. Consumers share it:
// the first [Endpoint.Attach] creates the query, every attach increments a
// consumer count, and the [Endpoint.Detach] that brings the count back to
// zero stops and destroys the query. The count and the query handle are
// guarded by one mutex, so there is never more than one live query per
// endpoint and a query is never destroyed while a consumer is attached.
//
// Events emitted by the query are wrapped by [Endpoint.TranslateEvent] into
// [message.Message] values whose data is the raw event and whose attributes
// name the endpoint, the query and its expression.
//
// Ways to consume an endpoint:
//
//   - [NewConsumer] calls a [Processor] on the engine's goroutine.
//   - [NewPollingConsumer] queues events for [PollingConsumer.Receive].
//   - [Endpoint.Subscribe] emits events on a channel until its context ends.
//
// A [Producer] goes the other way and sends messages into the engine.
// A [Component] keeps one endpoint per name and resolves "cep:" URIs.
//
//	engine := memory.New(memory.Config{})
//	ep, err := cep.NewEndpoint(engine, cep.EndpointConfig{
//		Name:  "large-orders",
//		Query: "select * from Order where event.amount > 100",
//	})
//	...
//	msgs, err := ep.Subscribe(ctx, cep.SubscribeConfig{})
package cep
