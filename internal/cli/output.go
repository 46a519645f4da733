package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/metrics"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/pipeline"
)

// errorBody is the JSON shape of a failed command
type errorBody struct {
	Error *model.Error `json:"error"`
}

// printJSON writes v to stdout as indented JSON
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// printError renders err as {"error":{kind,message,details}}. Errors that
// are not model errors (flag parsing, I/O) are reported as internal or
// validation errors.
func printError(err error) {
	e := model.AsError(err)
	if e.Kind == model.KindInternal && e.Err != nil && isUsageError(e.Err) {
		e = model.NewError(model.KindValidation, e.Err, "%s", e.Message)
	}
	if encErr := printJSON(errorBody{Error: e}); encErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// usageError marks command-line mistakes
type usageError struct{ msg string }

func (u usageError) Error() string { return u.msg }

func newUsageError(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func isUsageError(err error) bool {
	_, ok := err.(usageError)
	return ok
}

// runEngine opens the engine, runs fn under a signal-aware context with
// timeout, prints the result as JSON and flushes metrics
func runEngine(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, e *pipeline.Engine) (interface{}, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	engine, err := pipeline.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Warn("Closing store failed", "error", err)
		}
	}()

	result, runErr := fn(ctx, engine)

	if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		slog.Warn("Metrics not written", "path", cfg.Metrics.TextfilePath, "error", err)
	}
	if runErr != nil {
		return runErr
	}
	return printJSON(result)
}
