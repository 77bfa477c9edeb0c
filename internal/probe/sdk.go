package probe

import "context"

// SDK is the capability set of the debug-probe tooling. Orchestration code
// only talks to the probe through this interface so vendor bindings stay
// replaceable.
//
// CloseWorkspace may be called while an earlier call that exceeded its
// deadline is still in flight; implementations should abort that call.
type SDK interface {
	// Connect attaches to the workspace at path, or to the most recently
	// used one when path is empty.
	Connect(ctx context.Context, workspace string) error

	ConfigureEmulator(ctx context.Context, emulatorType string) error
	ConfigureTransport(ctx context.Context, transport Transport) error
	ConfigureSoC(ctx context.Context, model string) error
	RegisterApplication(ctx context.Context, name string) error
	RegisterSymbolFile(ctx context.Context, application, path, format string) error
	RegisterProgramFile(ctx context.Context, path, format string) error
	RegisterMemorySpace(ctx context.Context, name, core, application string) error
	SetDemoMode(ctx context.Context, enabled bool) error

	Download(ctx context.Context) error
	ResetTarget(ctx context.Context) error
	EraseTarget(ctx context.Context) error

	PersistWorkspace(ctx context.Context) error
	CloseWorkspace(ctx context.Context) error
}
