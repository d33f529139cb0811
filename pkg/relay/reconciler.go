package relay

import (
	"context"
	"fmt"
	"log"

	"sheetrelay/internal"
	"sheetrelay/pkg/asana"
	"sheetrelay/pkg/queue"
	"sheetrelay/pkg/sheets"
)

// TaskFetcher fetches the full task state from the upstream API.
type TaskFetcher interface {
	GetTask(ctx context.Context, gid string) (*asana.Task, error)
}

// Table is the slice of the task table the reconciler needs.
type Table interface {
	EnsureSchema(ctx context.Context, spreadsheetID string, schema sheets.Schema) error
	LocateTask(ctx context.Context, spreadsheetID, taskID string) (int, int, error)
	UpsertRow(ctx context.Context, spreadsheetID string, schema sheets.Schema, row []any) error
	ClearRow(ctx context.Context, spreadsheetID string, width, row int) error
}

// Reconciler turns verified change events into spreadsheet writes. Reads run
// inline; every write goes through the serialized queue.
type Reconciler struct {
	tasks   TaskFetcher
	table   Table
	writes  *queue.Queue
	policy  FieldPolicy
	special map[string]struct{}
	logger  *log.Logger
}

func NewReconciler(tasks TaskFetcher, table Table, writes *queue.Queue, policy FieldPolicy, specialAssignees []string, logger *log.Logger) *Reconciler {
	special := make(map[string]struct{}, len(specialAssignees))
	for _, name := range specialAssignees {
		special[name] = struct{}{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		tasks:   tasks,
		table:   table,
		writes:  writes,
		policy:  policy,
		special: special,
		logger:  logger,
	}
}

// Apply reconciles one event against the spreadsheet.
func (r *Reconciler) Apply(ctx context.Context, event internal.Event) error {
	if event.ResourceType != "" && event.ResourceType != "task" {
		return nil
	}

	switch event.Action {
	case "added", "changed":
		return r.applyChange(ctx, event)
	case "removed", "deleted":
		return r.applyRemoval(ctx, event)
	default:
		r.logger.Printf("ignoring action %q for task %s", event.Action, event.ResourceGID)
		return nil
	}
}

func (r *Reconciler) applyChange(ctx context.Context, event internal.Event) error {
	task, err := r.tasks.GetTask(ctx, event.ResourceGID)
	if err != nil {
		if apiErr, ok := err.(*asana.APIError); ok && apiErr.StatusCode == 404 {
			// The task vanished between the event and the fetch.
			return r.applyRemoval(ctx, event)
		}
		return fmt.Errorf("fetch task %s: %w", event.ResourceGID, err)
	}

	workspaceID := ""
	if task.Workspace != nil {
		workspaceID = task.Workspace.GID
	}
	schema := r.policy.SchemaFor(workspaceID)

	existing, _, err := r.table.LocateTask(ctx, event.SpreadsheetID, task.GID)
	if err != nil {
		return err
	}

	if !task.Completed && !r.isSpecial(task) && existing == 0 {
		// Not completed, no special assignee, no row yet: not interesting.
		return nil
	}

	row := r.buildRow(schema, workspaceID, task)
	return r.writes.Do(ctx, func(ctx context.Context) error {
		if err := r.table.EnsureSchema(ctx, event.SpreadsheetID, schema); err != nil {
			return err
		}
		if err := r.table.UpsertRow(ctx, event.SpreadsheetID, schema, row); err != nil {
			return err
		}
		internal.IncSheetWrite()
		return nil
	})
}

func (r *Reconciler) applyRemoval(ctx context.Context, event internal.Event) error {
	// Workspace is unknown for a removal, so the row and its width come from
	// the sheet's own header rather than any configured schema.
	row, width, err := r.table.LocateTask(ctx, event.SpreadsheetID, event.ResourceGID)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}
	return r.writes.Do(ctx, func(ctx context.Context) error {
		if err := r.table.ClearRow(ctx, event.SpreadsheetID, width, row); err != nil {
			return err
		}
		internal.IncSheetWrite()
		return nil
	})
}

func (r *Reconciler) isSpecial(task *asana.Task) bool {
	if task.Assignee == nil {
		return false
	}
	_, ok := r.special[task.Assignee.Name]
	return ok
}

func (r *Reconciler) buildRow(schema sheets.Schema, workspaceID string, task *asana.Task) []any {
	projectName := ""
	projectID := ""
	if len(task.Memberships) > 0 {
		projectName = task.Memberships[0].Project.Name
		projectID = task.Memberships[0].Project.GID
	}
	assignee := ""
	if task.Assignee != nil {
		assignee = task.Assignee.Name
	}
	values := r.policy.Extract(workspaceID, task.CustomFields)

	row := make([]any, 0, schema.Width())
	row = append(row, projectName, task.Name, assignee, formatTimestamp(task.CompletedAt))
	for _, name := range schema.Fields {
		row = append(row, values[name])
	}
	row = append(row, projectID, task.GID, task.Completed)
	if schema.Extra != "" {
		row = append(row, values[schema.Extra])
	}
	return row
}
