package hadoop

// Reserved resources on every worker: one core for the management daemon
// and 2 GiB of memory for the OS and daemons.
const (
	reservedCores = 1
	reservedMemMB = 2048
)

// Sizing holds the resource parameters computed for one hardware class.
// Slots <= 0 means worker-slot settings must be skipped for the class;
// MemPerSlotMB <= 0 means the per-slot memory setting must be skipped.
// Both are deliberate no-ops rather than errors, so a heterogeneous fleet
// still gets every other setting.
type Sizing struct {
	Slots        int
	MemPerSlotMB int
}

// ComputeSizing derives worker slot count and per-slot memory from a
// representative host of a hardware class.
func ComputeSizing(h Host) Sizing {
	s := Sizing{Slots: h.Cores - reservedCores}
	if s.Slots > 0 {
		s.MemPerSlotMB = (h.RAMMB - reservedMemMB) / s.Slots
	}
	return s
}
