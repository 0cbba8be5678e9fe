// Package memory provides an in-process cep.Engine.
//
// Filters are CEL expressions evaluated against events normalised to
// property maps. Two expression forms are understood.
//
// Statements select events of one type:
//
//	select * from Order where event.amount > 100
//	select id, amount from Order as o where o.region == "eu"
//
// Patterns match a sequence of events, each step optionally tagged and
// filtered. Later steps may refer to earlier tags:
//
//	every o=Order -> p=Payment(p.orderId == o.id)
//
// A pattern without "every" completes once. With "every", each event
// matching the first step starts a new partial match. Completed patterns
// emit an event of type "pattern" whose properties map each tag to the
// matched event's properties.
//
// SendEvent dispatches synchronously on the caller's goroutine.
package memory
