package sink

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-relay/internal/model"
	"github.com/sells-group/lead-relay/pkg/google"
)

// TimestampLayout formats the first cell of every logged row.
const TimestampLayout = "2006-01-02 15:04:05"

// RowWidth is the number of cells written per record.
const RowWidth = 26

// Sheet appends one row per record to the enrollment log spreadsheet.
type Sheet struct {
	client google.Client
	loc    *time.Location
	now    func() time.Time

	// mu serializes count-then-insert so concurrent records never target
	// the same row.
	mu sync.Mutex
}

// NewSheet returns a spreadsheet sink stamping rows in loc. A nil loc
// means UTC.
func NewSheet(client google.Client, loc *time.Location) *Sheet {
	if loc == nil {
		loc = time.UTC
	}
	return &Sheet{client: client, loc: loc, now: time.Now}
}

// Name implements Sink.
func (s *Sheet) Name() string { return "sheet" }

// Send implements Sink. The row is inserted directly below the last filled
// row.
func (s *Sheet) Send(ctx context.Context, rec *model.Record) error {
	row := BuildRow(rec, s.now().In(s.loc))

	s.mu.Lock()
	defer s.mu.Unlock()

	filled, err := s.client.FilledRowCount(ctx)
	if err != nil {
		return eris.Wrap(err, "sink: count sheet rows")
	}
	if err := s.client.InsertRow(ctx, row, filled+1); err != nil {
		return eris.Wrapf(err, "sink: insert sheet row %d", filled+1)
	}
	return nil
}

// BuildRow returns the fixed column layout for rec.
func BuildRow(rec *model.Record, at time.Time) []any {
	return []any{
		at.Format(TimestampLayout),
		rec.Payment.Date,
		rec.Manager.Name,
		"",
		rec.Learner.LastName + " " + rec.Learner.FirstName,
		rec.Learner.LearningDirection,
		rec.Learner.Grade,
		rec.Learner.Department,
		rec.LearningTime,
		rec.Branch,
		rec.Learner.Subjects,
		rec.Payment.Amount,
		rec.Payment.Credit,
		rec.Payment.Method,
		rec.BaseCourseMonths,
		rec.IntensiveCourseMonths,
		rec.SummerCampFlag,
		rec.Status,
		"",
		rec.StartDate,
		rec.EndDate,
		rec.Parent.Name,
		"",
		rec.Parent.Phone,
		rec.Manager.Comment,
		rec.Parent.Email,
	}
}
