package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-relay/internal/model"
	"github.com/sells-group/lead-relay/pkg/google/mocks"
	"github.com/sells-group/lead-relay/pkg/telegram"
	tgmocks "github.com/sells-group/lead-relay/pkg/telegram/mocks"
)

var (
	_ Sink = (*Chat)(nil)
	_ Sink = (*Sheet)(nil)
)

func sampleRecord() *model.Record {
	r := model.NewRecord(31337)
	r.Learner = model.Learner{
		FirstName:         "Aruzhan",
		LastName:          "Ivanova",
		Grade:             "9",
		Department:        "RU",
		LearningDirection: "University entrance",
		Subjects:          "Math, Physics",
	}
	r.Manager.Name = "Aigerim"
	r.Manager.Comment = "Pays in two parts"
	r.Payment = model.Payment{Date: "2023-11-15", Amount: "150000", Credit: "50000", Method: "Kaspi"}
	r.Parent = model.Parent{Name: "Ivanova Saule", Phone: "+77010000000", Email: "parent@example.com"}
	r.City = "Almaty"
	r.Branch = "Online"
	r.LearningDurationMonths = "9"
	r.StartDate = "2023-09-02"
	r.EndDate = "2024-06-02"
	r.LearningTime = "18:00"
	r.BaseCourseMonths = "6"
	r.IntensiveCourseMonths = "3"
	r.SummerCampFlag = "yes"
	r.Status = "New"
	return r
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(sampleRecord())

	assert.True(t, strings.HasPrefix(msg, "<u>Please welcome a new learner</u>"))
	assert.Contains(t, msg, "Payment date: <b>2023-11-15</b>")
	assert.Contains(t, msg, "Learner: <b>Ivanova Aruzhan</b>")
	assert.Contains(t, msg, "Grade and department: <b>9 RU</b>")
	assert.Contains(t, msg, "Duration: <b>9 mo.</b>")
	assert.Contains(t, msg, "Start date: <b>2023-09-02</b>")
	assert.Contains(t, msg, "Subjects: <b>Math, Physics</b>")
	assert.Contains(t, msg, "Manager: <b>Aigerim</b>")
	assert.False(t, strings.HasSuffix(msg, "\n"))

	order := []string{"Payment date", "Learner", "Grade and department", "Time", "Parent", "Phone", "Branch",
		"Duration", "Start date", "End date", "Learning goal", "Subjects", "New or renewal", "Manager comment", "Manager:"}
	last := -1
	for _, label := range order {
		idx := strings.Index(msg[last+1:], label)
		require.GreaterOrEqual(t, idx, 0, "label %q out of order", label)
		last += idx + 1
	}
}

func TestFormatMessage_EmptyDuration(t *testing.T) {
	r := sampleRecord()
	r.LearningDurationMonths = ""
	msg := FormatMessage(r)
	assert.Contains(t, msg, "Duration: <b></b>")
	assert.NotContains(t, msg, "mo.")
}

func TestFormatMessage_EscapesValues(t *testing.T) {
	r := sampleRecord()
	r.Manager.Comment = `<script>alert("x")</script> & co`
	r.Learner.FirstName = "<b>"

	msg := FormatMessage(r)
	assert.NotContains(t, msg, "<script>")
	assert.Contains(t, msg, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; co")
	assert.Contains(t, msg, "Ivanova &lt;b&gt;")
}

func TestChatSend(t *testing.T) {
	client := tgmocks.NewMockClient(t)
	rec := sampleRecord()

	client.On("SendMessage", mock.Anything, mock.MatchedBy(func(m telegram.Message) bool {
		return m.ChatID == "-100500" && m.ParseMode == telegram.ParseModeHTML && m.Text == FormatMessage(rec)
	})).Return(&telegram.SentMessage{MessageID: 9}, nil).Once()

	chat := NewChat(client, "-100500")
	assert.Equal(t, "chat", chat.Name())
	require.NoError(t, chat.Send(context.Background(), rec))
}

func TestChatSend_Error(t *testing.T) {
	client := tgmocks.NewMockClient(t)
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("chat not found")).Once()

	err := NewChat(client, "1").Send(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestBuildRow(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	row := BuildRow(sampleRecord(), at)

	require.Len(t, row, RowWidth)
	assert.Equal(t, []any{
		"2024-01-02 03:04:05",
		"2023-11-15",
		"Aigerim",
		"",
		"Ivanova Aruzhan",
		"University entrance",
		"9",
		"RU",
		"18:00",
		"Online",
		"Math, Physics",
		"150000",
		"50000",
		"Kaspi",
		"6",
		"3",
		"yes",
		"New",
		"",
		"2023-09-02",
		"2024-06-02",
		"Ivanova Saule",
		"",
		"+77010000000",
		"Pays in two parts",
		"parent@example.com",
	}, row)
}

func TestBuildRow_EmptyRecord(t *testing.T) {
	row := BuildRow(model.NewRecord(1), time.Unix(0, 0).UTC())
	require.Len(t, row, RowWidth)
	assert.Equal(t, "1970-01-01 00:00:00", row[0])
	for i, cell := range row[1:] {
		if i+1 == 4 {
			assert.Equal(t, " ", cell)
			continue
		}
		assert.Equal(t, "", cell, "cell %d", i+1)
	}
}

func TestSheetSend(t *testing.T) {
	client := mocks.NewMockClient(t)
	loc := time.FixedZone("ALMT", 5*3600)
	s := NewSheet(client, loc)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 20, 30, 0, 0, time.UTC) }

	client.On("FilledRowCount", mock.Anything).Return(41, nil).Once()
	client.On("InsertRow", mock.Anything, mock.MatchedBy(func(row []any) bool {
		return len(row) == RowWidth && row[0] == "2024-01-02 01:30:00" && row[1] == "2023-11-15"
	}), 42).Return(nil).Once()

	assert.Equal(t, "sheet", s.Name())
	require.NoError(t, s.Send(context.Background(), sampleRecord()))
}

func TestSheetSend_CountError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("FilledRowCount", mock.Anything).Return(0, errors.New("quota exceeded")).Once()

	err := NewSheet(client, nil).Send(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	client.AssertNotCalled(t, "InsertRow", mock.Anything, mock.Anything, mock.Anything)
}

func TestSheetSend_InsertError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("FilledRowCount", mock.Anything).Return(3, nil).Once()
	client.On("InsertRow", mock.Anything, mock.Anything, 4).Return(errors.New("permission denied")).Once()

	err := NewSheet(client, nil).Send(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 4")
}

func TestSheetSend_ConcurrentRowsDoNotCollide(t *testing.T) {
	client := mocks.NewMockClient(t)
	s := NewSheet(client, nil)

	var (
		mu   sync.Mutex
		rows = 10
		used = map[int]bool{}
	)
	client.On("FilledRowCount", mock.Anything).Return(func(context.Context) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return rows, nil
	})
	client.On("InsertRow", mock.Anything, mock.Anything, mock.Anything).Return(func(_ context.Context, _ []any, index int) error {
		mu.Lock()
		defer mu.Unlock()
		used[index] = true
		rows++
		return nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(context.Background(), sampleRecord()))
		}()
	}
	wg.Wait()

	assert.Len(t, used, 8)
	for i := 11; i <= 18; i++ {
		assert.True(t, used[i], "row %d", i)
	}
}
