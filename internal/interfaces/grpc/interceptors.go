// Package grpc provides the gRPC admission surface: a unary interceptor chain
// applying the window limiter and quota tracker to incoming calls.
package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/errors"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// metadataAPIKey is the incoming metadata key carrying the caller's API key.
// Metadata keys are lowercased on the wire.
var metadataAPIKey = strings.ToLower(constants.HeaderAPIKey)

// InterceptorChain builds the unary server interceptors.
type InterceptorChain struct {
	log         logger.Logger
	metrics     *monitoring.Metrics
	rateLimiter service.RateLimitService
	quotas      service.QuotaService
	rlConfig    models.RateLimitConfig
}

// NewInterceptorChain creates the chain. cfg is the window policy applied to
// every unary call.
func NewInterceptorChain(
	log logger.Logger,
	metrics *monitoring.Metrics,
	rateLimiter service.RateLimitService,
	quotas service.QuotaService,
	cfg models.RateLimitConfig,
) *InterceptorChain {
	return &InterceptorChain{
		log:         log,
		metrics:     metrics,
		rateLimiter: rateLimiter,
		quotas:      quotas,
		rlConfig:    cfg,
	}
}

// UnaryRecoveryInterceptor converts handler panics into Internal errors.
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Errorf(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor logs each call with its outcome and latency.
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.String("caller", CallerKey(ctx)),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)

		return resp, err
	}
}

// UnaryRateLimitInterceptor applies the window limiter to each call. Denied
// calls fail with ResourceExhausted; a fail-closed store error surfaces as
// Unavailable.
func (ic *InterceptorChain) UnaryRateLimitInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		key := CallerKey(ctx)

		start := time.Now()
		result, err := ic.rateLimiter.CheckRateLimit(ctx, key, ic.rlConfig)
		if result == nil {
			result = &models.RateLimitResult{Limit: ic.rlConfig.MaxRequests, Window: ic.rlConfig.Window}
		}
		ic.metrics.RecordRateLimitCheck(constants.RateLimitContextAPI, result.Allowed, time.Since(start))

		if err != nil {
			ic.metrics.RecordStoreFailure("check_rate_limit")
			return nil, status.Errorf(grpcCodes.Unavailable, "admission store unavailable")
		}

		if !result.Allowed {
			ic.log.Warn(ctx, "Rate limit exceeded",
				logger.String("key", key),
				logger.String("method", info.FullMethod),
			)
			return nil, status.Errorf(grpcCodes.ResourceExhausted, "rate limit exceeded for %s", key)
		}

		return handler(ctx, req)
	}
}

// UnaryQuotaInterceptor applies the quota tracker to each call and records
// usage for admitted calls.
func (ic *InterceptorChain) UnaryQuotaInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		key := CallerKey(ctx)

		decision := ic.quotas.HasAvailableQuota(ctx, key)
		if !decision.HasQuota {
			ic.log.Warn(ctx, "Quota exceeded",
				logger.String("key", key),
				logger.String("reason", decision.Reason),
				logger.String("method", info.FullMethod),
			)
			return nil, status.Errorf(grpcCodes.ResourceExhausted, "%s", decision.Reason)
		}

		ic.quotas.RecordUsage(ctx, key, "")
		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor maps application errors to gRPC status codes.
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		return resp, convertAppErrorToGRPC(err)
	}
}

// CallerKey derives the admission subject for a call: the API key metadata
// value when present, otherwise the peer address.
func CallerKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if keys := md.Get(metadataAPIKey); len(keys) > 0 && keys[0] != "" {
			return keys[0]
		}
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}

	return "unknown"
}

func convertAppErrorToGRPC(err error) error {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return status.Errorf(grpcCodes.Internal, "internal server error")
	}

	switch appErr.HTTPStatus() {
	case 400:
		return status.Errorf(grpcCodes.InvalidArgument, "%s", appErr.Error())
	case 404:
		return status.Errorf(grpcCodes.NotFound, "%s", appErr.Error())
	case 429:
		return status.Errorf(grpcCodes.ResourceExhausted, "%s", appErr.Error())
	case 503:
		return status.Errorf(grpcCodes.Unavailable, "%s", appErr.Error())
	default:
		return status.Errorf(grpcCodes.Internal, "%s", appErr.Error())
	}
}

// ChainUnaryInterceptors assembles the full chain as a server option.
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(),
		ic.UnaryLoggingInterceptor(),
		ic.UnaryRateLimitInterceptor(),
		ic.UnaryQuotaInterceptor(),
		ic.UnaryErrorInterceptor(),
	)
}
