package vault

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/contacts"
	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// Note kinds, used in metrics and progress callbacks.
const (
	KindContact = "contact"
	KindEmail   = "email"
)

const defaultCommitEvery = 10

// ProgressFunc is called after every commitEvery notes and once at the end
// of each kind. A non-nil error stops the writer.
type ProgressFunc func(ctx context.Context, kind string, written, total int) error

// Writer renders notes into a Manager's vault.
type Writer struct {
	mgr         *Manager
	commitEvery int
	metrics     *metrics.Metrics
}

// NewWriter creates a Writer. commitEvery <= 0 uses 10.
func NewWriter(mgr *Manager, commitEvery int, m *metrics.Metrics) *Writer {
	if commitEvery <= 0 {
		commitEvery = defaultCommitEvery
	}
	return &Writer{mgr: mgr, commitEvery: commitEvery, metrics: m}
}

// WriteContacts writes one note per contact, linking the messages each
// contact sent.
func (w *Writer) WriteContacts(ctx context.Context, cs []model.Contact, msgs []model.Message, progress ProgressFunc) (int, error) {
	bySender := make(map[string][]model.Message)
	for _, m := range msgs {
		key := contacts.NormalizeEmail(m.SenderEmail)
		bySender[key] = append(bySender[key], m)
	}

	return w.write(ctx, KindContact, len(cs), progress, func(i int) (string, string, error) {
		c := cs[i]
		body, err := ContactNote(c, bySender[contacts.NormalizeEmail(c.Email)])
		return ContactPath(c), body, err
	})
}

// WriteEmails writes one note per message with its tags.
func (w *Writer) WriteEmails(ctx context.Context, msgs []model.Message, tags map[string][]model.Tag, progress ProgressFunc) (int, error) {
	return w.write(ctx, KindEmail, len(msgs), progress, func(i int) (string, string, error) {
		m := msgs[i]
		body, err := EmailNote(m, tags[m.ID])
		return EmailPath(m), body, err
	})
}

func (w *Writer) write(ctx context.Context, kind string, total int, progress ProgressFunc, render func(int) (string, string, error)) (int, error) {
	written, pending := 0, 0
	flush := func() error {
		w.metrics.NotesWritten(kind, pending)
		pending = 0
		if progress == nil {
			return nil
		}
		return progress(ctx, kind, written, total)
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path, body, err := render(i)
		if err != nil {
			return written, eris.Wrapf(err, "vault: render %s note %d", kind, i)
		}
		if err := w.mgr.Write(path, body); err != nil {
			return written, err
		}
		written++
		pending++
		if written%w.commitEvery == 0 {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if pending > 0 || total == 0 {
		if err := flush(); err != nil {
			return written, err
		}
	}

	zap.L().Info("vault: notes written",
		zap.String("kind", kind),
		zap.Int("count", written),
	)
	return written, nil
}
