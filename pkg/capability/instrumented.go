package capability

import (
	"context"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/telemetry"
)

// Instrumented records a span, latency and error metrics for every call.
func Instrumented(next Client, tel *telemetry.Telemetry) Client {
	if tel == nil {
		return next
	}
	logger := tel.Logger.NewComponentLogger("capability").Zerolog()
	return ClientFunc(func(ctx context.Context, req Request) (Result, error) {
		ctx, span := tel.Tracer.StartCapabilitySpan(ctx, string(req.Group), req.Operation)
		defer span.End()

		timer := telemetry.NewTimer()
		res, err := next.Invoke(ctx, req)
		elapsed := timer.Duration()

		tel.Metrics.RecordCapabilityCall(string(req.Group), req.Operation, elapsed)
		if err != nil {
			code := engine.ErrorCode(err)
			tel.Metrics.RecordCapabilityError(string(req.Group), req.Operation, code)
			span.SetAttributes(telemetry.AttrErrorCode.String(code))
			telemetry.RecordError(span, err)
			logger.Warn().
				Err(err).
				Str("group", string(req.Group)).
				Str("operation", req.Operation).
				Dur("duration", elapsed).
				Msg("Capability call failed")
			return nil, err
		}

		telemetry.RecordSuccess(span)
		logger.Debug().
			Str("group", string(req.Group)).
			Str("operation", req.Operation).
			Dur("duration", elapsed).
			Msg("Capability call")
		return res, nil
	})
}
