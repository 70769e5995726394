package grpcx

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/slotdesk/libs/httpx"
)

// RequestIDMetadataKey is the lowercase metadata form of httpx.RequestIDHeader.
const RequestIDMetadataKey = "x-request-id"

// RequestIDFromContext shares the HTTP context key so log lines correlate across transports.
func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

func incomingRequestID(ctx context.Context) string {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
			raw = vals[0]
		}
	}
	return httpx.AcceptRequestID(raw)
}
