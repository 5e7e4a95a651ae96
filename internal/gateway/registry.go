package gateway

import (
	"fmt"
	"sort"

	"github.com/javajoker/fanvault-backend/internal/config"
)

// Registry resolves adapters by name.
type Registry struct {
	adapters    map[string]Adapter
	defaultName string
}

func NewRegistry(defaultName string, adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters)), defaultName: defaultName}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment gateway %q", name)
	}
	return a, nil
}

// Default returns the adapter used for new external settlements.
func (r *Registry) Default() (Adapter, error) {
	return r.Get(r.defaultName)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers CCBill always, Stripe when a secret key is
// configured and the test adapter only in test mode.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	adapters := []Adapter{NewCCBillAdapter(cfg.Gateway.CCBill, nil)}
	if cfg.Gateway.Stripe.SecretKey != "" {
		adapters = append(adapters, NewStripeAdapter(cfg.Gateway.Stripe, nil))
	}
	if cfg.Payment.TestMode {
		adapters = append(adapters, NewTestAdapter(cfg.Gateway.Test, cfg.Payment.TestAdapterApprove))
	}
	return NewRegistry(cfg.Payment.DefaultGateway, adapters...)
}
