package sheets

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// SecretStore is the durable webhook_id -> signing secret mapping, kept in a
// hidden sheet of the destination spreadsheet. The spreadsheet id is passed
// on every call; the store holds no per-spreadsheet state.
type SecretStore struct {
	values     Values
	sheet      string
	logger     *log.Logger
	retryDelay time.Duration
}

func NewSecretStore(values Values, sheet string, logger *log.Logger) *SecretStore {
	if sheet == "" {
		sheet = "webhook_secrets"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SecretStore{
		values:     values,
		sheet:      sheet,
		logger:     logger,
		retryDelay: 5 * time.Second,
	}
}

// EnsureSchema creates the hidden secrets sheet with its header row if the
// spreadsheet does not have one yet. Safe to call repeatedly; only the first
// call on a spreadsheet mutates it.
func (s *SecretStore) EnsureSchema(ctx context.Context, spreadsheetID string) error {
	titles, err := s.values.SheetTitles(ctx, spreadsheetID)
	if err != nil {
		return fmt.Errorf("secret store: list sheets: %w", err)
	}
	for _, title := range titles {
		if title == s.sheet {
			return nil
		}
	}

	if err := s.values.AddSheet(ctx, spreadsheetID, s.sheet, true); err != nil {
		return fmt.Errorf("secret store: create sheet: %w", err)
	}
	header := [][]any{{"webhook_id", "secret"}}
	if err := s.values.Update(ctx, spreadsheetID, s.rowRange(1), header); err != nil {
		return fmt.Errorf("secret store: write header: %w", err)
	}
	return nil
}

// Upsert stores secret under webhookID, overwriting in place when the id is
// already present. A rate-limited write is retried once after a fixed delay;
// any other failure surfaces immediately. Losing a secret breaks signature
// verification for that webhook permanently, so Upsert never drops silently.
func (s *SecretStore) Upsert(ctx context.Context, spreadsheetID, webhookID, secret string) error {
	if webhookID == "" {
		return fmt.Errorf("secret store: webhook id is empty")
	}
	if err := s.EnsureSchema(ctx, spreadsheetID); err != nil {
		return err
	}

	return s.withRateLimitRetry(ctx, func() error {
		rows, err := s.values.Get(ctx, spreadsheetID, s.dataRange())
		if err != nil {
			return fmt.Errorf("secret store: read rows: %w", err)
		}

		for i, row := range rows {
			if cellString(row, 0) != webhookID {
				continue
			}
			// Header is row 1; stored rows start at sheet row 2.
			target := s.rowRange(i + 2)
			if err := s.values.Update(ctx, spreadsheetID, target, [][]any{{webhookID, secret}}); err != nil {
				return fmt.Errorf("secret store: update row: %w", err)
			}
			return nil
		}

		if err := s.values.Append(ctx, spreadsheetID, s.dataRange(), [][]any{{webhookID, secret}}); err != nil {
			return fmt.Errorf("secret store: append row: %w", err)
		}
		return nil
	})
}

// ListSecrets returns every non-empty stored secret value. Webhook ids are
// discarded; signature verification only searches secret values.
func (s *SecretStore) ListSecrets(ctx context.Context, spreadsheetID string) ([]string, error) {
	rows, err := s.values.Get(ctx, spreadsheetID, s.dataRange())
	if err != nil {
		return nil, fmt.Errorf("secret store: read rows: %w", err)
	}

	secrets := make([]string, 0, len(rows))
	for _, row := range rows {
		if secret := cellString(row, 1); secret != "" {
			secrets = append(secrets, secret)
		}
	}
	return secrets, nil
}

// DeleteLogical blanks both cells of the webhook's row. The row itself stays
// so concurrent operations keep stable row addresses.
func (s *SecretStore) DeleteLogical(ctx context.Context, spreadsheetID, webhookID string) error {
	rows, err := s.values.Get(ctx, spreadsheetID, s.dataRange())
	if err != nil {
		return fmt.Errorf("secret store: read rows: %w", err)
	}

	for i, row := range rows {
		if cellString(row, 0) != webhookID {
			continue
		}
		target := s.rowRange(i + 2)
		if err := s.values.Update(ctx, spreadsheetID, target, [][]any{{"", ""}}); err != nil {
			return fmt.Errorf("secret store: blank row: %w", err)
		}
		return nil
	}
	return nil
}

func (s *SecretStore) withRateLimitRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !IsRateLimited(err) {
		return err
	}

	s.logger.Printf("secret store rate limited, retrying in %s", s.retryDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.retryDelay):
	}
	return op()
}

func (s *SecretStore) dataRange() string {
	return fmt.Sprintf("%s!A2:B", s.sheet)
}

func (s *SecretStore) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:B%d", s.sheet, row, row)
}

func cellString(row []any, index int) string {
	if index >= len(row) {
		return ""
	}
	value, ok := row[index].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
