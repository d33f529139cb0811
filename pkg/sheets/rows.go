package sheets

import (
	"context"
	"fmt"
	"log"
)

// Schema describes the fixed column layout of the task sheet:
//
//	project name | task name | assignee | completed at | <custom fields...> |
//	project id | task id | completed | [extra]
//
// Row 1 is the header; logical data row n maps to sheet row n+1.
type Schema struct {
	Fields []string
	Extra  string
}

const fixedLeadColumns = 4

// taskIDHeader titles the column holding the upsert identity. Row lookup
// resolves the column from the sheet's own header, so rows stay addressable
// even when the configured schema and the sheet's layout disagree.
const taskIDHeader = "Task ID"

// headerProbeColumns bounds the header read when resolving the task-id
// column. Wider than any configured schema gets.
const headerProbeColumns = 26

// Header returns the header row for this schema.
func (s Schema) Header() []string {
	header := make([]string, 0, s.Width())
	header = append(header, "Project", "Task", "Assignee", "Completed At")
	header = append(header, s.Fields...)
	header = append(header, "Project ID", taskIDHeader, "Completed")
	if s.Extra != "" {
		header = append(header, s.Extra)
	}
	return header
}

// TaskIDIndex is the zero-based column holding the upsert identity.
func (s Schema) TaskIDIndex() int {
	return fixedLeadColumns + len(s.Fields) + 1
}

// Width is the number of columns, including the optional extra column.
func (s Schema) Width() int {
	width := fixedLeadColumns + len(s.Fields) + 3
	if s.Extra != "" {
		width++
	}
	return width
}

// TaskTable reads and writes task rows in the data sheet. Writes are
// expected to arrive one at a time through the write queue; reads may race
// with writes and tolerate eventual consistency.
type TaskTable struct {
	values Values
	sheet  string
	logger *log.Logger
}

func NewTaskTable(values Values, sheet string, logger *log.Logger) *TaskTable {
	if sheet == "" {
		sheet = "Tasks"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TaskTable{values: values, sheet: sheet, logger: logger}
}

// EnsureSchema writes the header row when the sheet is empty or its first
// row does not match the schema's first column.
func (t *TaskTable) EnsureSchema(ctx context.Context, spreadsheetID string, schema Schema) error {
	header := schema.Header()
	existing, err := t.values.Get(ctx, spreadsheetID, t.rowRange(1, len(header)))
	if err != nil {
		return fmt.Errorf("task table: read header: %w", err)
	}
	if len(existing) > 0 && cellString(existing[0], 0) == header[0] {
		return nil
	}

	row := make([]any, len(header))
	for i, cell := range header {
		row[i] = cell
	}
	if err := t.values.Update(ctx, spreadsheetID, t.rowRange(1, len(header)), [][]any{row}); err != nil {
		return fmt.Errorf("task table: write header: %w", err)
	}
	return nil
}

// LocateTask finds the sheet row holding taskID. The task-id column is
// resolved from the sheet's header row, not from a configured schema, so
// lookup works for rows written under any workspace's field list. Returns
// the sheet row and the header width; row 0 means the sheet has no header
// or no matching row.
func (t *TaskTable) LocateTask(ctx context.Context, spreadsheetID, taskID string) (int, int, error) {
	header, err := t.values.Get(ctx, spreadsheetID, t.rowRange(1, headerProbeColumns))
	if err != nil {
		return 0, 0, fmt.Errorf("task table: read header: %w", err)
	}
	if len(header) == 0 {
		return 0, 0, nil
	}

	column := -1
	for i := range header[0] {
		if cellString(header[0], i) == taskIDHeader {
			column = i
			break
		}
	}
	if column < 0 {
		return 0, 0, nil
	}
	width := len(header[0])

	letter := columnLetter(column)
	readRange := fmt.Sprintf("%s!%s2:%s", t.sheet, letter, letter)
	rows, err := t.values.Get(ctx, spreadsheetID, readRange)
	if err != nil {
		return 0, 0, fmt.Errorf("task table: scan rows: %w", err)
	}

	for i, row := range rows {
		if cellString(row, 0) == taskID {
			return i + 2, width, nil
		}
	}
	return 0, width, nil
}

// UpsertRow writes row under the task id it carries: in place when a row for
// that id exists, appended otherwise.
func (t *TaskTable) UpsertRow(ctx context.Context, spreadsheetID string, schema Schema, row []any) error {
	if len(row) != schema.Width() {
		return fmt.Errorf("task table: row has %d cells, schema has %d", len(row), schema.Width())
	}
	taskID, _ := row[schema.TaskIDIndex()].(string)
	if taskID == "" {
		return fmt.Errorf("task table: row has no task id")
	}

	existing, _, err := t.LocateTask(ctx, spreadsheetID, taskID)
	if err != nil {
		return err
	}

	if existing > 0 {
		target := fmt.Sprintf("%s!A%d:%s%d", t.sheet, existing, columnLetter(len(row)-1), existing)
		if err := t.values.Update(ctx, spreadsheetID, target, [][]any{row}); err != nil {
			return fmt.Errorf("task table: update row: %w", err)
		}
		return nil
	}

	appendRange := fmt.Sprintf("%s!A2:%s", t.sheet, columnLetter(len(row)-1))
	if err := t.values.Append(ctx, spreadsheetID, appendRange, [][]any{row}); err != nil {
		return fmt.Errorf("task table: append row: %w", err)
	}
	return nil
}

// ClearRow blanks width cells of the given sheet row, keeping the row slot
// so later row numbers stay valid. width comes from LocateTask, matching the
// layout the row was actually written with.
func (t *TaskTable) ClearRow(ctx context.Context, spreadsheetID string, width, row int) error {
	if row < 2 {
		return fmt.Errorf("task table: row %d is not a data row", row)
	}
	if width < 1 {
		return fmt.Errorf("task table: width %d is not a row width", width)
	}
	blank := make([]any, width)
	for i := range blank {
		blank[i] = ""
	}
	target := fmt.Sprintf("%s!A%d:%s%d", t.sheet, row, columnLetter(width-1), row)
	if err := t.values.Update(ctx, spreadsheetID, target, [][]any{blank}); err != nil {
		return fmt.Errorf("task table: clear row: %w", err)
	}
	return nil
}

func (t *TaskTable) rowRange(row, width int) string {
	return fmt.Sprintf("%s!A%d:%s%d", t.sheet, row, columnLetter(width-1), row)
}

// columnLetter converts a zero-based column index to its A1 letter(s).
func columnLetter(index int) string {
	letters := ""
	n := index
	for {
		letters = string(rune('A'+n%26)) + letters
		n = n/26 - 1
		if n < 0 {
			return letters
		}
	}
}
