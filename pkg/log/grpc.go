package log

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor stores a per-call logger in the context and logs
// each call. Health checks are logged at debug level.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		child := logger.With().
			Str(FieldRequestID, incomingRequestID(ctx)).
			Str(FieldGRPCMethod, info.FullMethod).
			Logger()

		resp, err := handler(WithLogger(ctx, child), req)

		code := status.Code(err)
		var evt *zerolog.Event
		switch {
		case code == codes.Internal || code == codes.Unknown || code == codes.DataLoss:
			evt = child.Error().Err(err)
		case err != nil:
			evt = child.Warn().Err(err)
		case strings.HasPrefix(info.FullMethod, "/grpc.health."):
			evt = child.Debug()
		default:
			evt = child.Info()
		}
		evt.Str(FieldGRPCCode, code.String()).
			Dur(FieldLatency, time.Since(start)).
			Msg("rpc completed")

		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		for _, v := range md.Get(metadataKeyRequestID) {
			if v != "" {
				return v
			}
		}
	}
	return uuid.New().String()
}
