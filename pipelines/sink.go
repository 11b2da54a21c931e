package pipelines

import (
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugRelationsEnv switches on the logging of rejected relations.
const DebugRelationsEnv = "GLINER_DEBUG_RELATIONS"

// RejectionLevel is the level ZapSink writes rejections at.
const RejectionLevel = zapcore.InfoLevel

// Rejection describes a relation dropped during decoding.
type Rejection struct {
	Sequence int
	Label    string
	Relation string
	Subject  RelationEntity
	Object   RelationEntity
	Score    float32
	Reason   error
}

// RejectionSink receives relations the decoder drops. Implementations must
// be safe for concurrent use when the pipeline is shared.
type RejectionSink interface {
	Reject(r Rejection)
}

// NopSink discards every rejection.
type NopSink struct{}

func (NopSink) Reject(Rejection) {}

// ZapSink writes one record per rejection at RejectionLevel.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) Reject(r Rejection) {
	s.Logger.Log(RejectionLevel, "relation rejected",
		zap.Int("sequence", r.Sequence),
		zap.String("label", r.Label),
		zap.String("relation", r.Relation),
		zap.String("subject", r.Subject.Text),
		zap.String("subjectLabel", r.Subject.Label),
		zap.Int("subjectStart", r.Subject.Start),
		zap.Int("subjectEnd", r.Subject.End),
		zap.String("object", r.Object.Text),
		zap.String("objectLabel", r.Object.Label),
		zap.Int("objectStart", r.Object.Start),
		zap.Int("objectEnd", r.Object.End),
		zap.Float32("score", r.Score),
		zap.NamedError("reason", r.Reason),
	)
}

// SinkFromEnv returns a ZapSink when DebugRelationsEnv holds a true value
// (as understood by strconv.ParseBool) and a NopSink otherwise. When logger
// is nil or drops RejectionLevel, rejections go to a stderr logger instead.
func SinkFromEnv(logger *zap.Logger) RejectionSink {
	enabled, err := strconv.ParseBool(os.Getenv(DebugRelationsEnv))
	if err != nil || !enabled {
		return NopSink{}
	}
	if logger == nil || !logger.Core().Enabled(RejectionLevel) {
		fallback, buildErr := stderrLogger()
		if buildErr != nil {
			return NopSink{}
		}
		logger = fallback
	}
	return ZapSink{Logger: logger}
}

func stderrLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

type countingSink struct {
	next  RejectionSink
	count *atomic.Uint64
}

func (s countingSink) Reject(r Rejection) {
	s.count.Add(1)
	s.next.Reject(r)
}
