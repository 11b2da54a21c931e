package backends

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Pipeline is the interface that any pipeline must implement.
type Pipeline interface {
	GetStatistics() PipelineStatistics // Get the pipeline running statistics
	GetStats() []string                // Get the pipeline running stats as printable lines
	Validate() error                   // Validate the pipeline for correctness
	GetModel() *Model                  // Return the model used by the pipeline
}

// PipelineOption is an option for a pipeline type.
type PipelineOption[T Pipeline] func(eo T) error

// PipelineConfig is a configuration for a pipeline type that can be used
// to create that pipeline.
type PipelineConfig[T Pipeline] struct {
	ModelPath    string
	Name         string
	OnnxFilename string
	Options      []PipelineOption[T]
}

// Timings accumulates call counts and wall time. Safe for concurrent use.
type Timings struct {
	NumCalls atomic.Uint64
	TotalNS  atomic.Uint64
}

// Track runs fn and records its duration, whether or not it fails.
func (t *Timings) Track(fn func() error) error {
	if t == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	t.NumCalls.Add(1)
	t.TotalNS.Add(uint64(time.Since(start).Nanoseconds()))
	return err
}

func (t *Timings) total() time.Duration {
	ns := t.TotalNS.Load()
	if ns > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

func (t *Timings) average() time.Duration {
	return time.Duration(float64(t.TotalNS.Load()) / math.Max(1, float64(t.NumCalls.Load())))
}

type PipelineStatistics struct {
	TokenizerTotalTime      time.Duration
	TokenizerExecutionCount uint64
	TokenizerAvgQueryTime   time.Duration
	ScorerTotalTime         time.Duration
	ScorerExecutionCount    uint64
	ScorerAvgQueryTime      time.Duration
	DecoderTotalTime        time.Duration
	DecoderExecutionCount   uint64
	DecoderAvgQueryTime     time.Duration
	TotalQueries            uint64
	TotalDocuments          uint64
	RejectedRelations       uint64
}

func (p *PipelineStatistics) ComputeTokenizerStatistics(timings *Timings) {
	p.TokenizerTotalTime = timings.total()
	p.TokenizerExecutionCount = timings.NumCalls.Load()
	p.TokenizerAvgQueryTime = timings.average()
}

func (p *PipelineStatistics) ComputeScorerStatistics(timings *Timings) {
	p.ScorerTotalTime = timings.total()
	p.ScorerExecutionCount = timings.NumCalls.Load()
	p.ScorerAvgQueryTime = timings.average()
}

func (p *PipelineStatistics) ComputeDecoderStatistics(timings *Timings) {
	p.DecoderTotalTime = timings.total()
	p.DecoderExecutionCount = timings.NumCalls.Load()
	p.DecoderAvgQueryTime = timings.average()
}

// Lines renders the statistics the way GetStats reports them.
func (p PipelineStatistics) Lines(name string) []string {
	return []string{
		fmt.Sprintf("Statistics for pipeline: %s", name),
		fmt.Sprintf("Tokenizer: Total time=%s, Execution count=%d, Average query time=%s",
			p.TokenizerTotalTime, p.TokenizerExecutionCount, p.TokenizerAvgQueryTime),
		fmt.Sprintf("Scorer: Total time=%s, Execution count=%d, Average query time=%s",
			p.ScorerTotalTime, p.ScorerExecutionCount, p.ScorerAvgQueryTime),
		fmt.Sprintf("Decoder: Total time=%s, Execution count=%d, Average query time=%s",
			p.DecoderTotalTime, p.DecoderExecutionCount, p.DecoderAvgQueryTime),
		fmt.Sprintf("Queries=%d, Documents=%d, Rejected relations=%d",
			p.TotalQueries, p.TotalDocuments, p.RejectedRelations),
	}
}
