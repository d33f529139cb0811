package sheets

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
)

// fakeValues is an in-memory spreadsheet keyed by sheet title. It understands
// just enough A1 addressing for the stores: single-row ranges and open-ended
// column ranges starting at row 2.
type fakeValues struct {
	mu      sync.Mutex
	sheets  map[string][][]any
	calls   []string
	failGet int
	fail429 int
}

func newFakeValues() *fakeValues {
	return &fakeValues{sheets: make(map[string][][]any)}
}

var rangeRe = regexp.MustCompile(`^([^!]+)!([A-Z]+)(\d+)(?::([A-Z]+)(\d*))?$`)

func (f *fakeValues) parse(a1 string) (sheet string, startCol, startRow, endCol, endRow int, err error) {
	match := rangeRe.FindStringSubmatch(a1)
	if match == nil {
		return "", 0, 0, 0, 0, fmt.Errorf("fake: bad range %q", a1)
	}
	sheet = match[1]
	startCol = colIndex(match[2])
	startRow, _ = strconv.Atoi(match[3])
	endCol = startCol
	endRow = startRow
	if match[4] != "" {
		endCol = colIndex(match[4])
	}
	if match[5] != "" {
		endRow, _ = strconv.Atoi(match[5])
	} else if match[4] != "" {
		endRow = -1 // open-ended
	}
	return sheet, startCol, startRow, endCol, endRow, nil
}

func colIndex(letters string) int {
	n := 0
	for _, r := range letters {
		n = n*26 + int(r-'A') + 1
	}
	return n - 1
}

func (f *fakeValues) Get(ctx context.Context, spreadsheetID, readRange string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get "+readRange)

	if f.failGet > 0 {
		f.failGet--
		return nil, fmt.Errorf("fake: get failed")
	}

	sheet, startCol, startRow, endCol, endRow, err := f.parse(readRange)
	if err != nil {
		return nil, err
	}
	grid := f.sheets[sheet]

	var out [][]any
	for i := startRow - 1; i < len(grid); i++ {
		if endRow > 0 && i >= endRow {
			break
		}
		row := grid[i]
		cells := make([]any, 0, endCol-startCol+1)
		for c := startCol; c <= endCol && c < len(row); c++ {
			cells = append(cells, row[c])
		}
		out = append(out, cells)
	}
	// The API omits trailing empty rows.
	for len(out) > 0 && rowEmpty(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out, nil
}

func rowEmpty(row []any) bool {
	for _, cell := range row {
		if s, ok := cell.(string); !ok || s != "" {
			return false
		}
	}
	return true
}

func (f *fakeValues) Update(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update "+writeRange)

	if f.fail429 > 0 {
		f.fail429--
		return &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"}
	}

	sheet, startCol, startRow, _, _, err := f.parse(writeRange)
	if err != nil {
		return err
	}
	for i, row := range rows {
		f.setRow(sheet, startRow-1+i, startCol, row)
	}
	return nil
}

func (f *fakeValues) Append(ctx context.Context, spreadsheetID, writeRange string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "append "+writeRange)

	if f.fail429 > 0 {
		f.fail429--
		return &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"}
	}

	sheet, _, _, _, _, err := f.parse(writeRange)
	if err != nil {
		return err
	}
	for _, row := range rows {
		f.setRow(sheet, len(f.sheets[sheet]), 0, row)
	}
	return nil
}

func (f *fakeValues) setRow(sheet string, rowIdx, startCol int, cells []any) {
	grid := f.sheets[sheet]
	for len(grid) <= rowIdx {
		grid = append(grid, nil)
	}
	row := grid[rowIdx]
	for len(row) < startCol+len(cells) {
		row = append(row, "")
	}
	copy(row[startCol:], cells)
	grid[rowIdx] = row
	f.sheets[sheet] = grid
}

func (f *fakeValues) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, 0, len(f.sheets))
	for title := range f.sheets {
		titles = append(titles, title)
	}
	return titles, nil
}

func (f *fakeValues) AddSheet(ctx context.Context, spreadsheetID, title string, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "addsheet "+title)
	if _, ok := f.sheets[title]; ok {
		return fmt.Errorf("fake: sheet %q exists", title)
	}
	f.sheets[title] = nil
	return nil
}

func (f *fakeValues) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}
