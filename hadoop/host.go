package hadoop

// Host is one machine of the cluster. Hosts are immutable for the lifetime
// of a Cluster: identity, hardware attributes and group membership are set
// at construction.
type Host struct {
	// Address is the host's reachable identity, e.g. a DNS name.
	Address string

	// Cores is the host's logical core count.
	Cores int

	// RAMMB is the host's total memory in MiB.
	RAMMB int

	// HardwareClass identifies the underlying physical cluster the host
	// belongs to. Hosts in one class share hardware attributes, so per-class
	// tuning can be computed once from any member.
	HardwareClass string
}

// Addresses returns the host addresses in input order.
func Addresses(hosts []Host) []string {
	addrs := make([]string, len(hosts))
	for i, h := range hosts {
		addrs[i] = h.Address
	}
	return addrs
}

// GroupByHardwareClass partitions hosts into hardware-homogeneous groups.
// Host order within a group preserves input order. A host with an empty
// class is grouped under "default".
func GroupByHardwareClass(hosts []Host) map[string][]Host {
	groups := map[string][]Host{}
	for _, h := range hosts {
		class := h.HardwareClass
		if class == "" {
			class = "default"
		}
		groups[class] = append(groups[class], h)
	}
	return groups
}
