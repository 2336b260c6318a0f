package hadoop

import (
	"strings"
	"testing"

	"github.com/gridexp/hadoopctl/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHosts(addrs ...string) []Host {
	hosts := make([]Host, len(addrs))
	for i, a := range addrs {
		hosts[i] = Host{Address: a, Cores: 8, RAMMB: 16384}
	}
	return hosts
}

func TestTopologyPositionalAssignment(t *testing.T) {
	hosts := testHosts("h1", "h2", "h3")
	topo, err := NewTopology(hosts, []string{"/rack1", "/rack2", "/rack1"})
	require.NoError(t, err)

	assert.Equal(t, "/rack1", topo.Rack("h1"))
	assert.Equal(t, "/rack2", topo.Rack("h2"))
	assert.Equal(t, "/rack1", topo.Rack("h3"))
}

func TestTopologyDefaultsToSingleRack(t *testing.T) {
	hosts := testHosts("h1", "h2")
	topo, err := NewTopology(hosts, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultRack, topo.Rack("h1"))
	assert.Equal(t, DefaultRack, topo.Rack("h2"))
	assert.Equal(t, DefaultRack, topo.Rack("unknown-host"))
}

func TestTopologyAssignmentLengthMismatch(t *testing.T) {
	_, err := NewTopology(testHosts("h1", "h2"), []string{"/rack1"})
	var confErr *lifecycle.ConfigError
	assert.ErrorAs(t, err, &confErr)
}

func TestRenderScriptIsDeterministic(t *testing.T) {
	hosts := testHosts("h2", "h1", "h3")
	topo, err := NewTopology(hosts, []string{"/r2", "/r1", "/r3"})
	require.NoError(t, err)

	script := topo.RenderScript()
	assert.Equal(t, script, topo.RenderScript())

	// entries appear in host input order
	i2 := strings.Index(script, `"h2"`)
	i1 := strings.Index(script, `"h1"`)
	i3 := strings.Index(script, `"h3"`)
	require.NotEqual(t, -1, i1)
	assert.Less(t, i2, i1)
	assert.Less(t, i1, i3)

	assert.Contains(t, script, `"h2") echo "/r2" ;;`)
	assert.Contains(t, script, `*) echo "/default-rack" ;;`)
}
