package internal

import "time"

// Event is the envelope handed from the webhook endpoint to the relay worker.
// One envelope corresponds to one Asana change event, already verified.
type Event struct {
	SpreadsheetID string    `json:"spreadsheet_id"`
	Action        string    `json:"action"`
	ResourceType  string    `json:"resource_type"`
	ResourceGID   string    `json:"resource_gid"`
	ReceivedAt    time.Time `json:"received_at"`
}
