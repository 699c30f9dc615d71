package vbox

import (
	"context"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vbox-mcp/internal/provider"
)

var reUUID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// resolver normalizes VM identifiers (name or UUID) to the canonical
// hypervisor UUID. Resolutions are cached with a short TTL; any mutating
// operation against a VM invalidates its entries, so external renames are
// picked up within the TTL window at worst.
type resolver struct {
	cache  *expirable.LRU[string, string]
	listFn func(ctx context.Context) ([]provider.VMSummary, error)
}

const resolverCacheSize = 256

func newResolver(ttl time.Duration, listFn func(ctx context.Context) ([]provider.VMSummary, error)) *resolver {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &resolver{
		cache:  expirable.NewLRU[string, string](resolverCacheSize, nil, ttl),
		listFn: listFn,
	}
}

// Resolve returns the canonical vm_id for an id-or-name. UUID-shaped
// inputs pass through unchanged; names are looked up in the cache and
// then against a fresh listing.
func (r *resolver) Resolve(ctx context.Context, idOrName string) (string, error) {
	if reUUID.MatchString(idOrName) {
		return idOrName, nil
	}
	if id, ok := r.cache.Get(idOrName); ok {
		return id, nil
	}
	vms, err := r.listFn(ctx)
	if err != nil {
		return "", err
	}
	for _, vm := range vms {
		r.cache.Add(vm.Name, vm.ID)
	}
	if id, ok := r.cache.Get(idOrName); ok {
		return id, nil
	}
	return "", provider.Errorf(provider.KindVMNotFound,
		"no virtual machine named %q is registered", idOrName)
}

// Invalidate drops every cached name that resolved to vmID.
func (r *resolver) Invalidate(vmID string) {
	for _, name := range r.cache.Keys() {
		if id, ok := r.cache.Peek(name); ok && id == vmID {
			r.cache.Remove(name)
		}
	}
}
