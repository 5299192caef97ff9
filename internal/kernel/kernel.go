package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"ex-vellum/pkg/vellum"
)

// closableChannel is implemented by room channels owning background resources.
type closableChannel interface {
	Close(ctx context.Context) error
}

// Kernel is the per-member session runtime orchestrating modules, services
// and the room channel.
type Kernel struct {
	cfg config

	channel     vellum.RoomChannel
	ownsChannel bool
	services    *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a new kernel runtime.
//
// Without WithRoomChannel the kernel owns an in-process RoomBus and closes it
// on shutdown; an injected channel is left for its creator to close.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	channel := cfg.channel
	ownsChannel := channel == nil
	if ownsChannel {
		channel = NewRoomBus(
			cfg.bus.QueueDepth,
			cfg.bus.Workers,
			cfg.bus.HandlerTimeout,
			cfg.bus.MaxPayloadBytes,
			cfg.onAsyncError,
		)
	}

	kernelRuntime := &Kernel{
		cfg:         cfg,
		channel:     channel,
		ownsChannel: ownsChannel,
		services:    NewServiceRegistry(),
		modules:     make(map[string]*moduleRecord),
		moduleOrder: make([]string, 0),
	}
	if err := kernelRuntime.services.Register(vellum.ServiceMemberIdentity, cfg.identity); err != nil {
		cfg.onAsyncError(context.Background(), "register member identity service", err)
	}
	if err := kernelRuntime.services.Register(vellum.ServiceLogger, cfg.logger); err != nil {
		cfg.onAsyncError(context.Background(), "register logger service", err)
	}

	return kernelRuntime
}

// Channel exposes the room channel to integration code.
func (k *Kernel) Channel() vellum.RoomChannel {
	return k.channel
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() vellum.ServiceRegistry {
	return k.services
}

// Identity returns the local member identity.
func (k *Kernel) Identity() vellum.MemberIdentity {
	return k.cfg.identity
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule registers a lifecycle-aware module, runs optional registration,
// and wires declarative handlers.
func (k *Kernel) RegisterModule(ctx context.Context, module vellum.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	moduleSpec := module.Spec()
	if err := moduleSpec.Validate(); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: moduleSpec.Capabilities(),
	}
	if err := k.validateCapabilities(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, vellum.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = record
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	runtime := &moduleRuntime{
		moduleName:    name,
		serviceLookup: k.services,
		channel:       k.channel,
		role:          k.cfg.identity.Role,
		record:        record,
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, hasRegistrar := module.(vellum.ModuleRegistrar); hasRegistrar {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollbackModuleRegistration(ctx, name, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	if err := k.registerDeclaredHandlers(hookCtx, name, runtime, moduleSpec.Handlers); err != nil {
		k.rollbackModuleRegistration(ctx, name, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.cfg.logger.DebugContext(ctx, "module registered", "module", name, "role", string(k.cfg.identity.Role))

	return nil
}

// Run starts modules and blocks until ctx is canceled, then shuts everything down.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		shutdownErr := k.shutdownAll(ctx)
		return errors.Join(err, shutdownErr)
	}

	<-ctx.Done()
	runErr := ctx.Err()

	shutdownErr := k.shutdownAll(ctx)

	if isContextCancellation(runErr) {
		runErr = nil
	}
	if runErr != nil && shutdownErr != nil {
		return errors.Join(runErr, shutdownErr)
	}
	if runErr != nil {
		return runErr
	}

	return shutdownErr
}

// startRun serializes Run invocations and rejects concurrent starts.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order with per-module timeouts.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.orderedModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// shutdownAll tears down modules and the room channel in a bounded timeout window.
// It uses WithoutCancel to ensure cleanup still runs after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := k.shutdownModules(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if closer, ok := k.channel.(closableChannel); ok && k.ownsChannel {
		if err := closer.Close(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close room channel: %w", err))
		}
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownModules closes module subscriptions and invokes OnShutdown in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.orderedModules()

	var shutdownErr error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

func (k *Kernel) orderedModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if record, exists := k.modules[name]; exists {
			records = append(records, record)
		}
	}

	return records
}

// rollbackModuleRegistration removes a partially registered module after registration failure.
// It attempts best-effort subscription cleanup before removing registry entries.
func (k *Kernel) rollbackModuleRegistration(ctx context.Context, name string, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback_module_registration", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, name)
	k.moduleOrder = removeOrderedName(k.moduleOrder, name)
}

// validateCapabilities checks member role and required services declared by capabilities.
func (k *Kernel) validateCapabilities(capabilities []vellum.Capability) error {
	for _, capability := range capabilities {
		if !capability.AllowsRole(k.cfg.identity.Role) {
			return fmt.Errorf(
				"capability %s for role %s: %w",
				capability.Name,
				k.cfg.identity.Role,
				vellum.ErrRoleNotPermitted,
			)
		}
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf(
					"capability %s requires service %s (registered: %s): %w",
					capability.Name,
					serviceName,
					strings.Join(k.services.Names(), ", "),
					err,
				)
			}
		}
	}

	return nil
}

// registerDeclaredHandlers binds all declarative handlers from ModuleSpec.
func (k *Kernel) registerDeclaredHandlers(
	ctx context.Context,
	moduleName string,
	runtime *moduleRuntime,
	handlers []vellum.ModuleHandler,
) error {
	for idx, declared := range handlers {
		spec := declared.Subscription
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", moduleName, idx+1)
		}
		if _, err := runtime.Subscribe(ctx, spec, declared.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", spec.Name, declared.Capability.Name, err)
		}
	}

	return nil
}

// removeOrderedName removes one name while preserving remaining order.
func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
