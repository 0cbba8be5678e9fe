// Package message provides the CloudEvents-aligned envelope routed by gopipe-cep.
//
// A [Message] carries an opaque Data payload and [Attributes]. Messages created
// by CEP endpoints carry the raw engine event as Data; transports encode it with
// a [Marshaler] before it leaves the process.
//
// Acknowledgment is optional. Messages built with [NewWithAcking] settle exactly
// once: the first Ack or Nack wins and later calls only report the outcome.
//
//	acking := message.NewAcking(
//		func() { log.Println("processed") },
//		func(err error) { log.Println("failed:", err) },
//	)
//	msg := message.NewWithAcking(order, message.Attributes{
//		message.AttrType: "order.created",
//	}, acking)
//
// Components accept any [Logger]; *slog.Logger satisfies it directly and
// [NewZapLogger] adapts a zap logger.
package message
