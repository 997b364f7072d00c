// Package batch runs many conversion jobs on a bounded worker pool and
// reports each job's outcome as it finishes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

// State is a job's lifecycle position. Succeeded and Failed are terminal.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Job is one input image and its outcome.
type Job struct {
	ID        string           `json:"id" yaml:"id"`
	Input     string           `json:"input" yaml:"input"`
	OutputDir string           `json:"output_dir" yaml:"output_dir"`
	State     State            `json:"state" yaml:"state"`
	Reason    string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Result    *pipeline.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Duration  time.Duration    `json:"duration" yaml:"duration"`
}

// Event reports one finished job along with the batch's running count.
type Event struct {
	JobID     string `json:"job_id" yaml:"job_id"`
	Input     string `json:"input" yaml:"input"`
	State     State  `json:"state" yaml:"state"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Completed int    `json:"completed" yaml:"completed"`
	Total     int    `json:"total" yaml:"total"`
}

// Report summarizes a finished batch. Jobs are in input order.
type Report struct {
	ID        string `json:"id" yaml:"id"`
	Total     int    `json:"total" yaml:"total"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`
	Jobs      []Job  `json:"jobs" yaml:"jobs"`
}

// Converter runs one job.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputDir string) (*pipeline.Result, error)
}

// jobScoped is implemented by converters that can log with a job's logger.
type jobScoped interface {
	WithJobLogger(l *slog.Logger) *pipeline.Pipeline
}

// Orchestrator owns the job registry and the worker pool.
type Orchestrator struct {
	conv    Converter
	logger  *slog.Logger
	workers int

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds the number of jobs running at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// New returns an Orchestrator. The logger is the batch's logging context;
// every run derives batch and job loggers from it.
func New(conv Converter, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		conv:    conv,
		logger:  logger,
		workers: runtime.NumCPU(),
		jobs:    make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Workers returns the pool size.
func (o *Orchestrator) Workers() int {
	return o.workers
}

// Job returns a snapshot of a registered job.
func (o *Orchestrator) Job(id string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Run converts every input into outputDir. It fails before starting any job
// when an input is missing or unreadable or outputDir cannot be created.
// Otherwise every job runs: a failed job is recorded and reported, and never
// stops its siblings. onEvent, if set, is called once per finished job from a
// single goroutine.
func (o *Orchestrator) Run(ctx context.Context, inputs []string, outputDir string, onEvent func(Event)) (*Report, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no input images")
	}
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errs.WithPath(errs.IO, "create output directory", outputDir, err)
	}

	report := &Report{ID: uuid.NewString(), Total: len(inputs)}
	logger := o.logger.With("batch_id", report.ID)
	logger.Info("batch started", "jobs", report.Total, "workers", o.workers, "output", outputDir)

	jobs := o.register(inputs, outputDir)

	events := make(chan Event, o.workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		completed := 0
		for ev := range events {
			completed++
			ev.Completed = completed
			ev.Total = report.Total
			if ev.State == Succeeded {
				report.Succeeded++
			} else {
				report.Failed++
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, job := range jobs {
		g.Go(func() error {
			events <- o.runJob(ctx, logger, job)
			return nil
		})
	}
	// jobs never return errors; failures travel as events
	_ = g.Wait()
	close(events)
	<-done

	report.Jobs = make([]Job, len(jobs))
	o.mu.Lock()
	for i, j := range jobs {
		report.Jobs[i] = *j
	}
	o.mu.Unlock()

	logger.Info("batch finished", "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

func (o *Orchestrator) register(inputs []string, outputDir string) []*Job {
	jobs := make([]*Job, len(inputs))
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, in := range inputs {
		j := &Job{ID: uuid.NewString(), Input: in, OutputDir: outputDir, State: Pending}
		o.jobs[j.ID] = j
		jobs[i] = j
	}
	return jobs
}

func (o *Orchestrator) runJob(ctx context.Context, batchLogger *slog.Logger, job *Job) Event {
	logger := batchLogger.With("job_id", job.ID, "image", job.Input)
	o.setState(job, Running, "", nil, 0)
	start := time.Now()

	conv := o.conv
	if s, ok := conv.(jobScoped); ok {
		conv = s.WithJobLogger(logger)
	}

	result, err := convert(ctx, conv, job.Input, job.OutputDir)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job failed", "err", err, "kind", errs.KindOf(err), "duration", elapsed)
		o.setState(job, Failed, err.Error(), nil, elapsed)
		return Event{JobID: job.ID, Input: job.Input, State: Failed, Reason: err.Error()}
	}

	logger.Debug("job succeeded", "pdf", result.PDF, "duration", elapsed)
	o.setState(job, Succeeded, "", result, elapsed)
	return Event{JobID: job.ID, Input: job.Input, State: Succeeded}
}

// convert turns a panic anywhere in the job into that job's failure.
func convert(ctx context.Context, conv Converter, input, outputDir string) (res *pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return conv.Convert(ctx, input, outputDir)
}

func (o *Orchestrator) setState(job *Job, s State, reason string, res *pipeline.Result, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job.State = s
	job.Reason = reason
	job.Result = res
	job.Duration = d
}

func checkInputs(inputs []string) error {
	var problems []error
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			problems = append(problems, errs.WithPath(errs.IO, "stat input", in, err))
			continue
		}
		if info.IsDir() {
			problems = append(problems, errs.WithPath(errs.IO, "stat input", in, errors.New("is a directory")))
			continue
		}
		f, err := os.Open(in)
		if err != nil {
			problems = append(problems, errs.WithPath(errs.IO, "open input", in, err))
			continue
		}
		f.Close()
	}
	return errors.Join(problems...)
}
