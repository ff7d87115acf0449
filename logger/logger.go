package logger

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type for the context key
type contextKeyCorrelationLoggerType struct{}

var contextKeyCorrelationLogger = &contextKeyCorrelationLoggerType{}

// Context key for the correlation ID
const correlationIDLoggerKey string = "correlationID"

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// Default returns a logger without a correlation ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithCorrelation returns a context with a logger bound to the
// given correlation ID, if the given context has no logger yet. If the
// context already has a logger the given context will be returned. An
// empty correlation ID is replaced with a fresh one.
func ContextWithCorrelation(ctx context.Context, correlationID string) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else {
		rlog := loggerFromContext(ctx)
		if rlog != nil {
			return ctx, rlog
		}
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	rlog := logrus.WithField(correlationIDLoggerKey, correlationID)
	return context.WithValue(ctx, contextKeyCorrelationLogger, rlog), rlog
}

// FromContext returns the logger stored in the context, or the default
// logger if there is none.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	rlog, _ := ctx.Value(contextKeyCorrelationLogger).(*logrus.Entry)
	return rlog
}
