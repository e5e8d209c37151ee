package hass

import "context"

// Call origins recorded with service calls.
const (
	OriginAutomation = "automation"
	OriginScheduler  = "scheduler"
	OriginMQTT       = "mqtt"
	OriginCLI        = "cli"
)

type originKey struct{}

// WithOrigin tags ctx with the component issuing a service call.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin stored by WithOrigin, or OriginAutomation.
func OriginFrom(ctx context.Context) string {
	if origin, ok := ctx.Value(originKey{}).(string); ok && origin != "" {
		return origin
	}
	return OriginAutomation
}
