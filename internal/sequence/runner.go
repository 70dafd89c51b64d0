// internal/sequence/runner.go
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

// DefaultCompletionTimeout bounds how long a partial (busy) response may
// take to complete
const DefaultCompletionTimeout = 30 * time.Second

// Commander executes device commands. manager.Manager satisfies it.
type Commander interface {
	IsConnected() bool
	SendAndWaitText(ctx context.Context, text string, timeout time.Duration) (*model.ProtocolResponse, error)
	AwaitResponse(ctx context.Context, command string, timeout time.Duration) (*model.ProtocolResponse, error)
}

// Publisher receives progress and outcome events
type Publisher interface {
	Publish(event model.Event)
}

// Options tune a Runner
type Options struct {
	MaxWait           time.Duration
	CommandTimeout    time.Duration
	CompletionTimeout time.Duration
}

// Result describes one run
type Result struct {
	Sequence  string                    `json:"sequence"`
	Success   bool                      `json:"success"`
	Message   string                    `json:"message"`
	Steps     int                       `json:"steps"`
	Executed  int                       `json:"executed"`
	Skipped   int                       `json:"skipped"`
	Responses []*model.ProtocolResponse `json:"responses"`
	Duration  time.Duration             `json:"duration"`
}

// Stats counts runs by outcome
type Stats struct {
	Runs      int64 `json:"runs"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Running   bool  `json:"running"`
}

// Runner executes one sequence at a time against a Commander
type Runner struct {
	commander Commander
	library   *Library
	flags     FlagSource
	publisher Publisher
	opts      Options
	logger    *zap.Logger

	mutex  sync.Mutex
	cancel context.CancelFunc
	stats  Stats
}

// NewRunner creates a runner. flags and publisher may be nil.
func NewRunner(commander Commander, library *Library, flags FlagSource, publisher Publisher, opts Options, logger *zap.Logger) *Runner {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = DefaultCompletionTimeout
	}
	if flags == nil {
		flags = NewFlags(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		commander: commander,
		library:   library,
		flags:     flags,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With(zap.String("component", "sequence_runner")),
	}
}

// Library returns the sequence library
func (r *Runner) Library() *Library {
	return r.library
}

// Run expands the named sequence and executes it
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	lines, err := r.library.Expand(name)
	if err != nil {
		return nil, err
	}
	return r.RunSteps(ctx, name, lines)
}

// RunSteps executes already expanded lines. The returned Result is non-nil
// whenever execution started, including on failure.
func (r *Runner) RunSteps(ctx context.Context, name string, lines []string) (*Result, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySequence, name)
	}
	steps, err := Parse(lines, r.opts.MaxWait)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sequence %s: %w", name, err)
	}
	if !r.commander.IsConnected() {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mutex.Lock()
	if r.cancel != nil {
		r.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	r.cancel = cancel
	r.stats.Runs++
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.cancel = nil
		r.mutex.Unlock()
	}()

	logger := r.logger.With(zap.String("sequence", name))
	logger.Info("Starting sequence", zap.Int("steps", len(steps)))

	result := &Result{Sequence: name, Steps: len(steps)}
	start := time.Now()
	err = r.execute(ctx, steps, result, logger)
	result.Duration = time.Since(start)

	r.mutex.Lock()
	switch {
	case err == nil:
		r.stats.Succeeded++
	case errors.Is(err, context.Canceled):
		r.stats.Cancelled++
	default:
		r.stats.Failed++
	}
	r.mutex.Unlock()

	if err != nil {
		result.Message = err.Error()
		if errors.Is(err, context.Canceled) {
			logger.Info("Sequence cancelled", zap.Int("executed", result.Executed))
		} else {
			logger.Error("Sequence failed", zap.Error(err), zap.Int("executed", result.Executed))
		}
	} else {
		result.Success = true
		result.Message = fmt.Sprintf("sequence completed: %d commands", result.Executed)
		logger.Info("Sequence completed",
			zap.Int("executed", result.Executed),
			zap.Int("skipped", result.Skipped),
			zap.Duration("duration", result.Duration),
		)
	}

	r.emit(model.EventSequenceFinished, map[string]any{
		"sequence":    name,
		"success":     result.Success,
		"message":     result.Message,
		"executed":    result.Executed,
		"skipped":     result.Skipped,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, err
}

type frame struct {
	outer bool
	taken bool
}

func (r *Runner) execute(ctx context.Context, steps []Step, result *Result, logger *zap.Logger) error {
	active := true
	var blocks []frame

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch step.Kind {
		case KindIf:
			taken := r.evaluate(step.Condition)
			blocks = append(blocks, frame{outer: active, taken: taken})
			active = active && taken
			logger.Debug("Condition evaluated", zap.String("flag", step.Condition.Flag), zap.Bool("result", taken))
			continue
		case KindElse:
			top := blocks[len(blocks)-1]
			active = top.outer && !top.taken
			continue
		case KindEndIf:
			active = blocks[len(blocks)-1].outer
			blocks = blocks[:len(blocks)-1]
			continue
		}

		r.progress(result.Sequence, i+1, len(steps), step, !active)
		if !active {
			result.Skipped++
			continue
		}

		switch step.Kind {
		case KindStopIfNot:
			if !r.evaluate(step.Condition) {
				return fmt.Errorf("%w: %s", ErrStopped, step.Condition.Flag)
			}
		case KindWait:
			logger.Debug("Waiting", zap.Duration("duration", step.Wait))
			if err := sleep(ctx, step.Wait); err != nil {
				return err
			}
		case KindCommand:
			resp, err := r.command(ctx, step.Text)
			if resp != nil {
				result.Responses = append(result.Responses, resp)
			}
			if err != nil {
				return err
			}
			result.Executed++
		}
	}
	return nil
}

// command sends text and follows partial responses until the device
// reports completion or failure
func (r *Runner) command(ctx context.Context, text string) (*model.ProtocolResponse, error) {
	resp, err := r.commander.SendAndWaitText(ctx, text, r.opts.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %q: %w", text, err)
	}

	deadline := time.Now().Add(r.opts.CompletionTimeout)
	for resp.Status == model.StatusPartial {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return resp, fmt.Errorf("%w: %q did not complete within %s", ErrCommandFailed, text, r.opts.CompletionTimeout)
		}
		next, err := r.commander.AwaitResponse(ctx, text, remaining)
		if err != nil {
			return resp, fmt.Errorf("failed waiting for %q to complete: %w", text, err)
		}
		resp = next
	}

	if resp.Status != model.StatusSuccess {
		return resp, fmt.Errorf("%w: %q answered %s: %s", ErrCommandFailed, text, resp.Status, resp.Data)
	}
	return resp, nil
}

func (r *Runner) evaluate(c Condition) bool {
	v, _ := r.flags.Flag(c.Flag)
	if c.Negate {
		return !v
	}
	return v
}

func (r *Runner) progress(name string, current, total int, step Step, skipped bool) {
	r.emit(model.EventSequenceProgress, map[string]any{
		"sequence": name,
		"step":     current,
		"total":    total,
		"kind":     step.Kind.String(),
		"text":     step.Text,
		"skipped":  skipped,
	})
}

func (r *Runner) emit(t model.EventType, data map[string]any) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(model.NewEvent(t, "sequence_runner", data))
}

// Cancel stops the active run. It reports whether a run was active.
func (r *Runner) Cancel() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.logger.Info("Sequence cancellation requested")
	return true
}

// Running reports whether a run is active
func (r *Runner) Running() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cancel != nil
}

// Stats returns run counters
func (r *Runner) Stats() Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats := r.stats
	stats.Running = r.cancel != nil
	return stats
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
