package queue

import (
    "context"
    "encoding/json"
    "log"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultAuditQueue is the queue used when none is configured.
const DefaultAuditQueue = "reservation.audit"

// DefaultDialTimeout bounds the TCP connect and AMQP handshake of a publish.
const DefaultDialTimeout = 2 * time.Second

// Publisher sends audit events to a durable RabbitMQ queue.  A connection
// is dialled per publish; mutations are rare enough that pooling buys
// nothing.
type Publisher struct {
    url         string
    queue       string
    dialTimeout time.Duration
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url, queueName string) *Publisher {
    if queueName == "" {
        queueName = DefaultAuditQueue
    }
    return &Publisher{url: url, queue: queueName, dialTimeout: DefaultDialTimeout}
}

// timeout is the configured dial timeout, shortened to ctx's deadline.
func (p *Publisher) timeout(ctx context.Context) time.Duration {
    d := p.dialTimeout
    if dl, ok := ctx.Deadline(); ok {
        if left := time.Until(dl); left < d {
            d = left
        }
    }
    if d <= 0 {
        d = time.Millisecond
    }
    return d
}

// Publish marshals ev and publishes it as a persistent message.  Errors
// are logged and returned so the caller may ignore them.
func (p *Publisher) Publish(ctx context.Context, ev AuditEvent) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    // amqp.Dial ignores ctx; the dialer deadline also covers the handshake.
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(p.timeout(ctx)),
    })
    if err != nil {
        log.Printf("rabbitmq: dial failed: %v", err)
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        log.Printf("rabbitmq: channel open failed: %v", err)
        return err
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        log.Printf("rabbitmq: queue declare failed: %v", err)
        return err
    }

    body, err := json.Marshal(ev)
    if err != nil {
        log.Printf("rabbitmq: marshal event failed: %v", err)
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.EventID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    // default exchange, routing key = queue name
    if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
        log.Printf("rabbitmq: publish failed: %v", err)
        return err
    }
    return nil
}
