package metric

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func Op(val string) zap.Field {
	return zap.String("op", val)
}

func Version(val uint64) zap.Field {
	return zap.Uint64("version", val)
}

func Deltas(val int) zap.Field {
	return zap.Int("deltas", val)
}

func Attempts(val int) zap.Field {
	return zap.Int("attempts", val)
}

func TotalDur(val time.Duration) zap.Field {
	return zap.Int64("totalMs", val.Milliseconds())
}

func (m *metric) RequestLog(ctx context.Context, fields ...zap.Field) {
	m.opLog.InfoCtx(ctx, "", fields...)
}
