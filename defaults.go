package examcache

import (
	c "github.com/unkn0wn-root/examcache/codec"
)

// withDefaults fills every unset or non-positive option. Required options
// are left alone; newCache rejects them.
func (o Options[V]) withDefaults() Options[V] {
	if o.Codec == nil {
		o.Codec = c.JSON[V]{}
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.NegativeTTL <= 0 {
		o.NegativeTTL = defaultNegativeTTL
	}
	if o.GenRetention <= 0 {
		o.GenRetention = defaultGenRetention
	}
	o.Logger = OrNop(o.Logger)
	if o.Hooks == nil {
		o.Hooks = NopHooks{}
	}
	return o
}
