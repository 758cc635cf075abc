package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"trip_booking/model"
)

const BookingPaidQueue = "booking.paid"

// AMQPPublisher puts a persistent BookingPaidEvent on a durable queue.
type AMQPPublisher struct {
	url   string
	queue string
	log   *logrus.Entry
}

func NewAMQPPublisher(url string, log *logrus.Entry) *AMQPPublisher {
	return &AMQPPublisher{url: url, queue: BookingPaidQueue, log: log}
}

func (p *AMQPPublisher) BookingPaid(ctx context.Context, booking model.Booking) error {
	body, err := json.Marshal(NewBookingPaidEvent(booking))
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    booking.PublicCode,
		Body:         body,
	}
	if booking.PaidAt != nil {
		msg.Timestamp = booking.PaidAt.UTC()
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	p.log.WithField("booking", booking.PublicCode).Debug("booking.paid published")
	return nil
}
