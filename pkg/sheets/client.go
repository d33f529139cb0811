package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const scope = "https://www.googleapis.com/auth/spreadsheets"

// Values is the slice of the Sheets API the stores use. Keeping it narrow
// lets the stores be exercised against a fake in tests.
type Values interface {
	// Get reads a range and returns its rows.
	Get(ctx context.Context, spreadsheetID, readRange string) ([][]any, error)
	// Update overwrites a range in place.
	Update(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error
	// Append appends rows after the last data row of a range.
	Append(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error
	// SheetTitles returns the titles of the spreadsheet's sheets.
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	// AddSheet creates a new (optionally hidden) sheet.
	AddSheet(ctx context.Context, spreadsheetID, title string, hidden bool) error
}

// NewService builds a Values implementation backed by the real Sheets API,
// authorized with a service-account credentials file. Outbound calls reuse
// the supplied HTTP client for transport-level retry behavior.
func NewService(ctx context.Context, credentials string, httpClient *http.Client) (Values, error) {
	b, err := os.ReadFile(credentials)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	config, err := google.JWTConfigFromJSON(b, scope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	client := config.Client(ctx)

	service, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &googleValues{service: service}, nil
}

type googleValues struct {
	service *sheets.Service
}

func (g *googleValues) Get(ctx context.Context, spreadsheetID, readRange string) ([][]any, error) {
	response, err := g.service.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return response.Values, nil
}

func (g *googleValues) Update(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error {
	rq := sheets.ValueRange{
		Range:  writeRange,
		Values: rows,
	}
	_, err := g.service.Spreadsheets.Values.Update(spreadsheetID, writeRange, &rq).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

func (g *googleValues) Append(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error {
	rq := sheets.ValueRange{
		Values: rows,
	}
	_, err := g.service.Spreadsheets.Values.Append(spreadsheetID, writeRange, &rq).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (g *googleValues) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	spreadsheet, err := g.service.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	return titles, nil
}

func (g *googleValues) AddSheet(ctx context.Context, spreadsheetID, title string, hidden bool) error {
	rq := sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title:  title,
						Hidden: hidden,
					},
				},
			},
		},
	}
	_, err := g.service.Spreadsheets.BatchUpdate(spreadsheetID, &rq).Context(ctx).Do()
	return err
}

// IsRateLimited reports whether err is the Sheets per-minute write quota.
func IsRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	return false
}
