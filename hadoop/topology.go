package hadoop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gridexp/hadoopctl/lifecycle"
)

// DefaultRack is the rack assigned to every host when no explicit topology
// is provided.
const DefaultRack = "/default-rack"

// TopologyScriptName is the file name of the rendered rack-awareness
// script. The cluster invokes it with a host address argument and reads the
// rack name from stdout.
const TopologyScriptName = "topo.sh"

// Topology maps each host to a rack label for locality-aware scheduling.
// Every host has exactly one rack, and rendering is deterministic for a
// fixed topology: entries appear in host input order.
type Topology struct {
	hosts []Host
	racks map[string]string
}

// NewTopology builds a topology by zipping hosts to racks positionally.
// With a nil assignment every host maps to DefaultRack. A non-nil
// assignment must have exactly one rack per host.
func NewTopology(hosts []Host, racks []string) (*Topology, error) {
	if racks != nil && len(racks) != len(hosts) {
		return nil, lifecycle.ConfigErrorf(
			"topology assignment has %d racks for %d hosts", len(racks), len(hosts))
	}
	t := &Topology{hosts: hosts, racks: map[string]string{}}
	for i, h := range hosts {
		if racks == nil {
			t.racks[h.Address] = DefaultRack
		} else {
			t.racks[h.Address] = racks[i]
		}
	}
	return t, nil
}

// Rack returns the rack of the given host address, or DefaultRack for
// addresses outside the topology.
func (t *Topology) Rack(address string) string {
	if r, ok := t.racks[address]; ok {
		return r
	}
	return DefaultRack
}

// RenderScript renders the topology as a shell script mapping each address
// argument to its rack name.
func (t *Topology) RenderScript() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("while [ $# -gt 0 ] ; do\n")
	b.WriteString("  case \"$1\" in\n")
	for _, h := range t.hosts {
		fmt.Fprintf(&b, "    %q) echo %q ;;\n", h.Address, t.racks[h.Address])
	}
	fmt.Fprintf(&b, "    *) echo %q ;;\n", DefaultRack)
	b.WriteString("  esac\n")
	b.WriteString("  shift\n")
	b.WriteString("done\n")
	return b.String()
}

// WriteFiles materializes the topology script into dir.
func (t *Topology) WriteFiles(dir string) error {
	path := filepath.Join(dir, TopologyScriptName)
	if err := os.WriteFile(path, []byte(t.RenderScript()), 0o755); err != nil {
		return fmt.Errorf("writing topology script: %w", err)
	}
	return nil
}
