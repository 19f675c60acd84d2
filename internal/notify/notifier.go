package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier is the delivery collaborator. Transport mechanics (push, socket,
// email) live outside this module; the core only builds messages and hands
// them over.
type Notifier interface {
	Send(ctx context.Context, msg Message, recipients []uuid.UUID) error
}

// FireAndForget wraps a Notifier with the pipeline's delivery semantics:
// failures are logged and swallowed, never retried or surfaced.
type FireAndForget struct {
	notifier Notifier
	logger   logrus.FieldLogger
}

func NewFireAndForget(n Notifier, logger logrus.FieldLogger) *FireAndForget {
	return &FireAndForget{
		notifier: n,
		logger:   logger.WithField("component", "notify"),
	}
}

func (f *FireAndForget) Send(ctx context.Context, msg Message, recipients []uuid.UUID) {
	if len(recipients) == 0 {
		return
	}
	if err := f.notifier.Send(ctx, msg, recipients); err != nil {
		f.logger.WithError(err).WithField("kind", msg.Kind).Warn("notify failed")
	}
}

// Outbox is a recording Notifier. State mutation and notification are never
// one transaction; the outbox makes notification outcomes observable out of
// band, which is what the tests hook into.
type Outbox struct {
	mu   sync.Mutex
	sent []Sent
}

type Sent struct {
	Message    Message
	Recipients []uuid.UUID
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(_ context.Context, msg Message, recipients []uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, Sent{Message: msg, Recipients: recipients})
	return nil
}

func (o *Outbox) Sent() []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Sent, len(o.sent))
	copy(out, o.sent)
	return out
}

func (o *Outbox) ByKind(kind MessageKind) []Sent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Sent
	for _, s := range o.sent {
		if s.Message.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// LogNotifier is the stand-in delivery backend the binaries wire until a real
// transport exists. Every message is written to the log and reported sent.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notify.log")}
}

func (l *LogNotifier) Send(_ context.Context, msg Message, recipients []uuid.UUID) error {
	l.logger.WithFields(logrus.Fields{
		"kind":       msg.Kind,
		"recipients": len(recipients),
	}).Info("notification sent")
	return nil
}
