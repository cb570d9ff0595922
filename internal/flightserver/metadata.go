package flightserver

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// headerValue reads the first value of a gRPC metadata key from the
// incoming request context, or "" if absent.
func headerValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
