// Package obs provides the simulator's structured logging, adapted from
// the teacher's libs/observability hand-rolled JSON line logger. The
// teacher never imports a third-party logging library anywhere in its
// corpus, so this carries that same log.New-plus-encoding/json approach
// forward rather than reaching for zerolog/zap/slog.
package obs

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

type contextKey string

const runInfoKey contextKey = "run_info"

// RunInfo carries the identifiers that tag every log line emitted during
// one backtest run.
type RunInfo struct {
	RunID    string
	Strategy string
	Pair     string
}

// WithRunInfo attaches info to ctx for the engine and its collaborators to
// pick up when logging.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey, info)
}

// RunInfoFromContext retrieves the RunInfo attached by WithRunInfo, or the
// zero value if none was attached.
func RunInfoFromContext(ctx context.Context) RunInfo {
	if v := ctx.Value(runInfoKey); v != nil {
		if info, ok := v.(RunInfo); ok {
			return info
		}
	}
	return RunInfo{}
}

// Level is the closed set of log severities the error-handling design
// (§7) names as boundaries.
type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

// Event emits one structured JSON log line tagged with the RunInfo
// carried on ctx, merged with fields.
func Event(ctx context.Context, level Level, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": string(level),
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.RunID != "" {
		payload["run_id"] = info.RunID
	}
	if info.Strategy != "" {
		payload["strategy"] = info.Strategy
	}
	if info.Pair != "" {
		payload["pair"] = info.Pair
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
