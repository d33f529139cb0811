package internal

import "expvar"

var (
	requestsTotal     = expvar.NewMap("sheetrelay_requests_total")
	handshakesTotal   = expvar.NewMap("sheetrelay_handshakes_total")
	signatureRejects  = expvar.NewInt("sheetrelay_signature_rejects_total")
	eventsProcessed   = expvar.NewMap("sheetrelay_events_processed_total")
	sheetWrites       = expvar.NewInt("sheetrelay_sheet_writes_total")
	sheetWriteRetries = expvar.NewInt("sheetrelay_sheet_write_retries_total")
	queueDepth        = expvar.NewInt("sheetrelay_queue_depth")
)

func IncRequest(kind string) {
	requestsTotal.Add(kind, 1)
}

func IncHandshake(outcome string) {
	handshakesTotal.Add(outcome, 1)
}

func IncSignatureReject() {
	signatureRejects.Add(1)
}

func IncEventProcessed(action string) {
	eventsProcessed.Add(action, 1)
}

func IncSheetWrite() {
	sheetWrites.Add(1)
}

func IncSheetWriteRetry() {
	sheetWriteRetries.Add(1)
}

func SetQueueDepth(depth int64) {
	queueDepth.Set(depth)
}
