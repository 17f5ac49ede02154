package catalog

import "tdx-datafeed/internal/domain"

// builtinEndpoints is the guaranteed-fallback server list, tiered by
// historically observed latency with the fastest tier first. Remote sources
// can only add to this list, never replace it.
var builtinEndpoints = []domain.Endpoint{
	// Tier 1: consistently low latency.
	{Host: "119.147.212.81", Port: 7709},
	{Host: "123.125.108.14", Port: 7709},
	{Host: "114.80.63.12", Port: 7709},
	{Host: "114.80.63.35", Port: 7709},
	{Host: "180.153.18.170", Port: 7709},

	// Tier 2: usable but slower.
	{Host: "180.153.18.171", Port: 7709},
	{Host: "202.108.253.130", Port: 7709},
	{Host: "202.108.253.131", Port: 7709},
	{Host: "60.191.117.167", Port: 7709},
	{Host: "115.238.56.198", Port: 7709},

	// Tier 3: regional mirrors, kept for redundancy.
	{Host: "218.108.98.244", Port: 7709},
	{Host: "218.108.47.69", Port: 7709},
	{Host: "223.94.89.115", Port: 7709},
	{Host: "59.173.18.140", Port: 7709},
	{Host: "58.23.131.163", Port: 7709},
	{Host: "218.75.126.9", Port: 7709},
	{Host: "115.238.90.165", Port: 7709},
	{Host: "124.160.88.183", Port: 7709},
	{Host: "60.12.136.250", Port: 7709},
	{Host: "218.85.139.19", Port: 7709},
}

// BuiltinEndpoints returns a copy of the built-in list in tier order.
func BuiltinEndpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, len(builtinEndpoints))
	copy(out, builtinEndpoints)
	return out
}
