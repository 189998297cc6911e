// Package notify tells recipients about new transfers. Delivery problems are
// reported as counts and never fail the caller.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/segmentio/kafka-go"
)

// Result counts per-recipient outcomes.
type Result struct {
	Sent   int
	Failed int
}

type Notifier interface {
	TransferShared(ctx context.Context, recipients []string, t Transfer) Result
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

type KafkaNotifier struct {
	w      MessageWriter
	logger logging.Logger
}

func NewKafkaNotifier(w MessageWriter, logger logging.Logger) *KafkaNotifier {
	return &KafkaNotifier{w: w, logger: logger.With("module", "notify")}
}

// TransferShared publishes one message per recipient, keyed by recipient
// address. Blank addresses count as failures.
func (n *KafkaNotifier) TransferShared(ctx context.Context, recipients []string, t Transfer) Result {
	var res Result
	msgs := make([]kafka.Message, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			res.Failed++
			continue
		}
		payload, err := NewEvent("sharedrop", r, t).ToJSON()
		if err != nil {
			n.logger.Error(ctx, "encode notification", "recipient", r, "error", err)
			res.Failed++
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r), Value: payload})
	}
	if len(msgs) == 0 {
		return res
	}

	err := n.w.WriteMessages(ctx, msgs...)
	if err == nil {
		res.Sent += len(msgs)
		return res
	}

	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) && len(werrs) == len(msgs) {
		for i, e := range werrs {
			if e != nil {
				n.logger.Warn(ctx, "notification not delivered", "recipient", string(msgs[i].Key), "error", e)
				res.Failed++
			} else {
				res.Sent++
			}
		}
		return res
	}

	n.logger.Warn(ctx, "notification batch failed", "recipients", len(msgs), "error", err)
	res.Failed += len(msgs)
	return res
}

// LogNotifier only logs. It is used when no brokers are configured.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify")}
}

func (n *LogNotifier) TransferShared(ctx context.Context, recipients []string, t Transfer) Result {
	var res Result
	for _, r := range recipients {
		if strings.TrimSpace(r) == "" {
			res.Failed++
			continue
		}
		n.logger.Info(ctx, "transfer shared", "recipient", r, "subject", t.Subject(), "link", t.DownloadLink)
		res.Sent++
	}
	return res
}
