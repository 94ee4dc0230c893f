package audit

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.pilab.hu/linksync/log"
)

// Event is one audit trail entry for a reconciliation action.
type Event struct {
	Timestamp     time.Time
	Action        string
	Target        string
	Affected      []string
	Details       map[string]interface{}
	Success       bool
	Err           error
	CorrelationID string
}

// Actions recorded by the merge services.
const (
	ActionAgencyMerge = "agency.merge"
	ActionLinkMerge   = "connection_link.merge"
)

var (
	mu          sync.Mutex
	auditLogger = zerolog.New(os.Stdout).With().Timestamp().Str("stream", "audit").Logger()
)

// SetOutput redirects the audit trail.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w).With().Timestamp().Str("stream", "audit").Logger()
}

// Record writes ev as one JSON line.
func Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = log.CorrelationID(ctx)
	}

	mu.Lock()
	defer mu.Unlock()
	entry := auditLogger.Log().
		Time("at", ev.Timestamp).
		Str("action", ev.Action).
		Str("target", ev.Target).
		Strs("affected", ev.Affected).
		Bool("success", ev.Success)
	if ev.CorrelationID != "" {
		entry = entry.Str("correlation_id", ev.CorrelationID)
	}
	if len(ev.Details) > 0 {
		entry = entry.Fields(ev.Details)
	}
	if ev.Err != nil {
		entry = entry.Str("error", ev.Err.Error())
	}
	entry.Msg("")
}
