package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ex-vellum/pkg/vellum"
)

// moduleRecord stores module metadata and subscriptions managed by the kernel.
type moduleRecord struct {
	name          string
	module        vellum.Module
	capabilities  []vellum.Capability
	subscriptions []vellum.Subscription
	subMu         sync.Mutex
}

// addSubscription tracks subscriptions so module shutdown can close them deterministically.
func (m *moduleRecord) addSubscription(subscription vellum.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes all tracked subscriptions and aggregates close errors.
// It clears the internal slice first to make repeated shutdown paths idempotent.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := append([]vellum.Subscription(nil), m.subscriptions...)
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned implementation of vellum.ModuleRuntime.
type moduleRuntime struct {
	moduleName    string
	serviceLookup vellum.ServiceRegistry
	channel       vellum.RoomChannel
	role          vellum.Role
	record        *moduleRecord
}

// Services returns the kernel service registry visible to the module.
func (r *moduleRuntime) Services() vellum.ServiceRegistry {
	return r.serviceLookup
}

// Channel returns the room channel for module replies.
func (r *moduleRuntime) Channel() vellum.RoomChannel {
	return r.channel
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	spec vellum.SubscriptionSpec,
	handler vellum.MessageHandler,
) (vellum.Subscription, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("%s-subscription", r.moduleName)
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, r.role, spec); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.channel.Subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed enforces capability negotiation at registration time.
// A module can only subscribe to channels covered by a declared capability its role may run.
func assertSubscriptionAllowed(capabilities []vellum.Capability, role vellum.Role, spec vellum.SubscriptionSpec) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("subscription %s requires at least one declared capability", spec.Name)
	}

	for _, capability := range capabilities {
		if capability.AllowsChannel(spec.Channel) && capability.AllowsRole(role) {
			return nil
		}
	}

	return fmt.Errorf("channel %s does not match declared module capabilities: %w", spec.Channel, vellum.ErrInvalidSubscription)
}
