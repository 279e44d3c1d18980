// Package queue wraps the message bus carrying run requests from the
// API server to the agents.
package queue

import (
	nats "github.com/nats-io/go-nats"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "queue",
	})
}

// NATS is a message bus backed by a NATS connection.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url and returns a bus
// wrapping the connection.
func NewNATS(url string) (*NATS, error) {
	logger := logger.WithField("url", url)
	logger.Debug("connecting to NATS")

	conn, err := nats.Connect(url)
	if err != nil {
		logger.WithError(err).Debug("unable to connect to NATS")
		return nil, err
	}

	return &NATS{
		conn: conn,
	}, nil
}

// SenderOn returns a channel that publishes everything sent on it to
// the given subject.
func (b *NATS) SenderOn(subject string) chan<- []byte {
	logger := logger.WithField("subject", subject)

	send := make(chan []byte)
	go func() {
		for msg := range send {
			logger.Debug("publishing message")

			err := b.conn.Publish(subject, msg)
			if err != nil {
				logger.WithError(err).Error("unable to publish message")
			}
		}
	}()

	return send
}

// ReceiverOn subscribes to the given subject as part of group and
// returns a channel carrying the raw messages. Receivers in the same
// group split the subject's messages between them, so a message is
// handled by one agent only.
func (b *NATS) ReceiverOn(subject, group string) (<-chan []byte, error) {
	logger := logger.WithFields(log.Fields{
		"subject": subject,
		"group":   group,
	})

	recv := make(chan []byte)
	_, err := b.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		logger.Debug("received message")

		recv <- msg.Data
	})
	if err != nil {
		logger.WithError(err).Debug("unable to subscribe")
		return nil, err
	}

	return recv, nil
}
