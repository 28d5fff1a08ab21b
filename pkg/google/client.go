// Package google provides a Google Sheets client for appending rows to a
// single worksheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	googleauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	defaultTimeout = 30 * time.Second

	// valueInputUserEntered parses cells as if typed into the UI, so
	// numeric strings land as numbers.
	valueInputUserEntered = "USER_ENTERED"
)

// Client appends rows to one worksheet of a spreadsheet.
type Client interface {
	// FilledRowCount returns the number of rows up to the last non-empty
	// row of the worksheet.
	FilledRowCount(ctx context.Context) (int, error)
	// InsertRow inserts values as a new row at the 1-based index, shifting
	// existing rows down.
	InsertRow(ctx context.Context, values []any, index int) error
}

// Option configures the client.
type Option func(*sheetsClient)

// WithCredentialsFile reads service-account credentials from path.
func WithCredentialsFile(path string) Option {
	return func(c *sheetsClient) {
		c.credentialsFile = path
	}
}

// WithCredentialsJSON uses the given service-account credentials.
func WithCredentialsJSON(data []byte) Option {
	return func(c *sheetsClient) {
		c.credentialsJSON = data
	}
}

// WithBaseURL overrides the Sheets API endpoint.
func WithBaseURL(url string) Option {
	return func(c *sheetsClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the http.Client. The client is used as-is, so it
// must carry its own authentication.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sheetsClient) {
		c.http = hc
	}
}

// WithTimeout bounds each Sheets API call.
func WithTimeout(d time.Duration) Option {
	return func(c *sheetsClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type sheetsClient struct {
	spreadsheetID string
	worksheet     string

	credentialsFile string
	credentialsJSON []byte
	baseURL         string
	http            *http.Client
	timeout         time.Duration

	svc *sheets.Service

	mu      sync.Mutex
	sheetID *int64
}

// NewClient creates a Sheets client bound to one worksheet.
func NewClient(ctx context.Context, spreadsheetID, worksheet string, opts ...Option) (Client, error) {
	return newSheetsClient(ctx, spreadsheetID, worksheet, opts...)
}

func newSheetsClient(ctx context.Context, spreadsheetID, worksheet string, opts ...Option) (*sheetsClient, error) {
	if spreadsheetID == "" {
		return nil, eris.New("google: spreadsheet id is required")
	}
	if worksheet == "" {
		return nil, eris.New("google: worksheet is required")
	}

	c := &sheetsClient{
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		timeout:       defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	var clientOpts []option.ClientOption
	if c.baseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(c.baseURL))
	}

	switch {
	case c.http != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(c.http))
	default:
		data := c.credentialsJSON
		if data == nil {
			if c.credentialsFile == "" {
				return nil, eris.New("google: credentials are required")
			}
			raw, err := os.ReadFile(c.credentialsFile)
			if err != nil {
				return nil, eris.Wrapf(err, "google: read credentials %s", c.credentialsFile)
			}
			data = raw
		}
		creds, err := googleauth.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, eris.Wrap(err, "google: parse credentials")
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "google: create sheets service")
	}
	c.svc = svc
	return c, nil
}

func (c *sheetsClient) FilledRowCount(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, quoteSheet(c.worksheet)).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, wrapAPIError(err, "google: get worksheet values")
	}

	count := len(resp.Values)
	zap.L().Debug("google: filled row count",
		zap.String("worksheet", c.worksheet),
		zap.Int("rows", count),
	)
	return count, nil
}

func (c *sheetsClient) InsertRow(ctx context.Context, values []any, index int) error {
	if index < 1 {
		return eris.Errorf("google: row index must be >= 1, got %d", index)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return err
	}

	insert := &sheets.InsertDimensionRequest{
		Range: &sheets.DimensionRange{
			SheetId:         sheetID,
			Dimension:       "ROWS",
			StartIndex:      int64(index - 1),
			EndIndex:        int64(index),
			ForceSendFields: []string{"SheetId", "StartIndex"},
		},
		InheritFromBefore: index > 1,
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{InsertDimension: insert}},
	}).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(err, "google: insert row")
	}

	target := fmt.Sprintf("%s!A%d", quoteSheet(c.worksheet), index)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, target, &sheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         [][]any{values},
	}).ValueInputOption(valueInputUserEntered).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(err, "google: write row values")
	}

	zap.L().Info("google: row inserted",
		zap.String("worksheet", c.worksheet),
		zap.Int("index", index),
		zap.Int("cells", len(values)),
	)
	return nil
}

// resolveSheetID looks up the numeric id of the worksheet by title and
// caches it for the life of the client.
func (c *sheetsClient) resolveSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sheetID != nil {
		return *c.sheetID, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, wrapAPIError(err, "google: get spreadsheet")
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.worksheet {
			id := sh.Properties.SheetId
			c.sheetID = &id
			return id, nil
		}
	}
	return 0, eris.Errorf("google: worksheet %q not found", c.worksheet)
}

// quoteSheet renders a worksheet title for A1 notation.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func wrapAPIError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return eris.Wrapf(err, "%s: status %d", msg, apiErr.Code)
	}
	return eris.Wrap(err, msg)
}
