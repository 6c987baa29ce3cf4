package health

import "context"

// HealthPinger is implemented by components with a cheap liveness probe.
// HealthPing returns nil when the component is healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
