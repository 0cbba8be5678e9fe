// Package cloudevents converts messages to and from CloudEvents and moves
// them over HTTP with the CloudEvents SDK.
//
// Publishing query results:
//
//	pub, err := cloudevents.NewHTTPPublisher("http://collector:8080/events", cloudevents.PublisherConfig{
//	    Payload: cep.Payload,
//	    Headers: cep.Headers,
//	})
//	err = pub.PublishAll(ctx, msgs)
//
// Receiving events for a producer:
//
//	sub, err := cloudevents.NewHTTPSubscriber(cloudevents.SubscriberConfig{Port: 8080})
//	err = sub.Subscribe(ctx, func(msg *message.Message) error {
//	    return producer.Send(ctx, msg)
//	})
//
// The subscriber bridges the CloudEvents acknowledgment to message acking:
// the HTTP response is sent once the handler acks or nacks the message.
package cloudevents
