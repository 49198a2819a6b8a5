// Package sink persists analysis results record by record.
//
// A run writes three kinds of records: one consistency_result per flow,
// consistency_data rows linking each flow to the statements that decided
// it (with the contradicting statement, if any), and one contradiction
// per contradicting statement pair of the policy.
package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/term"
)

// ErrClosed is returned when delivering to a closed sink.
var ErrClosed = errors.New("sink closed")

// Kind identifies a record type.
type Kind string

const (
	KindConsistencyResult Kind = "consistency_result"
	KindConsistencyData   Kind = "consistency_data"
	KindContradiction     Kind = "contradiction"
)

// Record is one persisted row.
type Record struct {
	ID         string                `json:"id"`
	RunID      string                `json:"run_id"`
	AppID      string                `json:"app_id"`
	Seq        uint64                `json:"seq"`
	Kind       Kind                  `json:"kind"`
	Flow       *term.DataFlow        `json:"flow,omitempty"`
	Consistent *bool                 `json:"consistent,omitempty"`
	Statement  *term.PolicyStatement `json:"statement,omitempty"`
	Conflict   *term.PolicyStatement `json:"conflict,omitempty"`
	Predicate  consistency.Predicate `json:"predicate,omitempty"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// Sink receives records. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec *Record) error
	Close(ctx context.Context) error
}

// Writer stamps records with a run ID and sequence number and delivers
// them to a Sink.
type Writer struct {
	sink  Sink
	runID string
	seq   atomic.Uint64
	now   func() time.Time
}

// NewWriter creates a writer for one run. A nil sink discards everything.
func NewWriter(s Sink, runID string) *Writer {
	if s == nil {
		s = Discard{}
	}
	return &Writer{sink: s, runID: runID, now: time.Now}
}

// Sink returns the underlying sink.
func (w *Writer) Sink() Sink {
	return w.sink
}

func (w *Writer) deliver(ctx context.Context, appID string, rec *Record) error {
	rec.ID = uuid.NewString()
	rec.RunID = w.runID
	rec.AppID = appID
	rec.Seq = w.seq.Add(1)
	rec.RecordedAt = w.now().UTC()
	return w.sink.Deliver(ctx, rec)
}

// InsertConsistencyResult records the verdict of one flow.
func (w *Writer) InsertConsistencyResult(ctx context.Context, appID string, flow term.DataFlow, consistent bool) error {
	return w.deliver(ctx, appID, &Record{
		Kind:       KindConsistencyResult,
		Flow:       &flow,
		Consistent: &consistent,
	})
}

// InsertConsistencyData links a flow to a relevant statement. conflict is
// nil and pred is consistency.NoPredicate when the statement has no
// contradiction.
func (w *Writer) InsertConsistencyData(ctx context.Context, appID string, flow term.DataFlow, stmt term.PolicyStatement, conflict *term.PolicyStatement, pred consistency.Predicate) error {
	return w.deliver(ctx, appID, &Record{
		Kind:      KindConsistencyData,
		Flow:      &flow,
		Statement: &stmt,
		Conflict:  conflict,
		Predicate: pred,
	})
}

// InsertContradiction records one contradicting statement pair.
func (w *Writer) InsertContradiction(ctx context.Context, appID string, c consistency.Contradiction) error {
	a, b := c.Pair.A, c.Pair.B
	return w.deliver(ctx, appID, &Record{
		Kind:      KindContradiction,
		Statement: &a,
		Conflict:  &b,
		Predicate: c.Predicate,
	})
}

// WriteReport persists a finished report: contradictions first, then each
// flow's verdict followed by its statement rows.
func (w *Writer) WriteReport(ctx context.Context, rep *model.AppReport) error {
	for _, c := range rep.Contradictions {
		if err := w.InsertContradiction(ctx, rep.AppID, c); err != nil {
			return err
		}
	}

	for _, res := range rep.Flows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.InsertConsistencyResult(ctx, rep.AppID, res.Flow, res.Consistent()); err != nil {
			return err
		}
		for i, stmt := range res.Relevant {
			var conflicts []consistency.Conflict
			if i < len(res.Contradictions) {
				conflicts = res.Contradictions[i]
			}
			if len(conflicts) == 0 {
				if err := w.InsertConsistencyData(ctx, rep.AppID, res.Flow, stmt, nil, consistency.NoPredicate); err != nil {
					return err
				}
				continue
			}
			for _, c := range conflicts {
				if err := w.InsertConsistencyData(ctx, rep.AppID, res.Flow, stmt, &c.Statement, c.Predicate); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Close closes the underlying sink.
func (w *Writer) Close(ctx context.Context) error {
	return w.sink.Close(ctx)
}
