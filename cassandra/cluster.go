// Package cassandra manages the life-cycle of a gossip-based store on a
// fleet of remote hosts. It reuses the same lifecycle machine as the
// hadoop package with a much simpler configuration shape: one YAML file
// patched for the whole fleet, a seed subsystem and a peers subsystem.
package cassandra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridexp/hadoopctl/lifecycle"
	"github.com/gridexp/hadoopctl/remote"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfFileName is the single configuration document of the store.
const ConfFileName = "cassandra.yaml"

// Subsystem names: the seed must be up before the remaining peers join.
const (
	SubsystemSeed  = "seed"
	SubsystemPeers = "peers"
)

// Cluster is the lifecycle controller for one gossip-store cluster. Not
// goroutine-safe; callers serialize lifecycle operations.
type Cluster struct {
	Log *zap.SugaredLogger

	exec  remote.Executor
	props Properties

	hosts []string
	seed  string

	machine *lifecycle.Machine
}

type Option func(c *Cluster) error

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cluster) error {
		c.Log = l.Named("cassandra_cluster")
		return nil
	}
}

func WithPropertiesFile(path string) Option {
	return func(c *Cluster) error {
		p, err := LoadProperties(path)
		if err != nil {
			return err
		}
		c.props = p
		return nil
	}
}

func WithProperties(p Properties) Option {
	return func(c *Cluster) error {
		c.props = p
		return nil
	}
}

// New creates a controller over the given host addresses. The first host is
// the seed.
func New(executor remote.Executor, hosts []string, opts ...Option) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, lifecycle.ConfigErrorf("cluster needs at least one host")
	}
	c := &Cluster{
		exec:  executor,
		props: DefaultProperties(),
		hosts: hosts,
		seed:  hosts[0],
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.Log == nil {
		l, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("constructing default logger: %w", err)
		}
		c.Log = l.Sugar().Named("cassandra_cluster")
	}

	c.machine = lifecycle.New(c.Log, lifecycle.Subsystem{
		Name:  SubsystemSeed,
		Start: func(ctx context.Context) error { return c.runScript(ctx, []string{c.seed}, "start-cassandra.sh") },
		Stop:  func(ctx context.Context) error { return c.runScript(ctx, []string{c.seed}, "stop-cassandra.sh") },
	}, lifecycle.Subsystem{
		Name:  SubsystemPeers,
		Start: func(ctx context.Context) error { return c.runScript(ctx, c.hosts[1:], "start-cassandra.sh") },
		Stop:  func(ctx context.Context) error { return c.runScript(ctx, c.hosts[1:], "stop-cassandra.sh") },
	})

	c.Log.Infow("cassandra cluster created", "seed", c.seed, "hosts", len(c.hosts))
	return c, nil
}

func (c *Cluster) binDir() string { return c.props.BaseDir + "/bin" }

func (c *Cluster) Initialized() bool { return c.machine.Initialized() }
func (c *Cluster) Running() bool     { return c.machine.Running() }

func (c *Cluster) runScript(ctx context.Context, hosts []string, name string) error {
	if len(hosts) == 0 {
		return nil
	}
	return remote.RunAll(c.exec, hosts, filepath.Join(c.binDir(), name))(ctx)
}

// Bootstrap installs the store on every host from the given tar.gz archive
// and writes the start/stop scripts. Idempotent: prior install directories
// are removed first.
func (c *Cluster) Bootstrap(ctx context.Context, tarFile string) error {
	tarBase := filepath.Base(tarFile)

	c.Log.Infow("copying archive to hosts and unpacking", "archive", tarFile)
	err := remote.Sequential(ctx,
		remote.RunAll(c.exec, c.hosts, "rm -rf "+c.props.BaseDir+" "+c.props.ConfDir),
		remote.Push(c.exec, c.hosts, []string{tarFile}, "/tmp"),
		remote.RunAll(c.exec, c.hosts, "mkdir -p "+c.props.BaseDir),
		remote.RunAll(c.exec, c.hosts,
			"tar xzf /tmp/"+tarBase+" --strip-components=1 -C "+c.props.BaseDir),
	)
	if err != nil {
		return fmt.Errorf("installing archive: %w", err)
	}

	c.Log.Info("creating start/stop scripts")
	pidFile := filepath.Join(c.props.BaseDir, "cassandra.pid")
	start := "cat > " + filepath.Join(c.binDir(), "start-cassandra.sh") + " << EOF\n" +
		filepath.Join(c.binDir(), "cassandra") + " -p " + pidFile + "\n" +
		"EOF"
	stop := "cat > " + filepath.Join(c.binDir(), "stop-cassandra.sh") + " << EOF\n" +
		"kill \\`cat " + pidFile + "\\`\n" +
		"EOF"
	err = remote.Sequential(ctx,
		remote.RunAll(c.exec, c.hosts, start),
		remote.RunAll(c.exec, c.hosts, stop),
		remote.RunAll(c.exec, c.hosts,
			"mkdir -p "+c.props.ConfDir+
				" ; mkdir -p "+c.props.DataDir+
				" ; mkdir -p "+c.props.LogsDir),
		remote.RunAll(c.exec, c.hosts,
			"chmod g+w "+c.props.BaseDir+
				" ; chmod g+w "+c.props.ConfDir+
				" ; chmod g+w "+c.props.DataDir+
				" ; chmod g+w "+c.props.LogsDir+
				" ; chmod -R gu+x "+c.binDir()),
	)
	if err != nil {
		return fmt.Errorf("preparing installation directories: %w", err)
	}
	return nil
}

// Initialize configures the fleet: the shipped configuration file is
// fetched from the seed, patched locally as a typed edit and redistributed
// to every host. The initialized flag flips only after distribution
// succeeded.
func (c *Cluster) Initialize(ctx context.Context) error {
	if err := c.preInitialize(ctx); err != nil {
		return err
	}

	c.Log.Info("initializing cassandra")

	tmpDir, err := os.MkdirTemp("", "cassandra-conf-")
	if err != nil {
		return fmt.Errorf("creating scratch config dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	remotePath := filepath.Join(c.props.ConfDir, ConfFileName)
	if err := c.exec.CopyFrom(ctx, c.seed, []string{remotePath}, tmpDir); err != nil {
		return &lifecycle.RemoteError{Op: "fetch configuration", Host: c.seed, Err: err}
	}

	localPath := filepath.Join(tmpDir, ConfFileName)
	doc, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading fetched configuration: %w", err)
	}
	patched, err := PatchConfig(doc, c.seed)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, patched, 0o644); err != nil {
		return fmt.Errorf("writing patched configuration: %w", err)
	}

	if err := c.exec.CopyTo(ctx, c.hosts, []string{localPath}, c.props.ConfDir); err != nil {
		return &lifecycle.RemoteError{Op: "distribute configuration", Err: err}
	}

	c.machine.SetInitialized(true)
	return nil
}

func (c *Cluster) preInitialize(ctx context.Context) error {
	if c.machine.Initialized() {
		if c.Running() {
			if err := c.Stop(ctx); err != nil {
				return err
			}
		}
		if err := c.Clean(ctx); err != nil {
			return err
		}
	}
	c.machine.SetInitialized(false)
	return nil
}

// PatchConfig applies the fleet settings to a raw store configuration
// document: seed list, wildcard listen/rpc addresses, rpc enabled, gossiping
// snitch and no auto bootstrap.
func PatchConfig(doc []byte, seeds string) ([]byte, error) {
	var cfg map[string]interface{}
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	providers, ok := cfg["seed_provider"].([]interface{})
	if !ok || len(providers) == 0 {
		return nil, lifecycle.ConfigErrorf("configuration has no seed_provider entry")
	}
	provider, ok := providers[0].(map[string]interface{})
	if !ok {
		return nil, lifecycle.ConfigErrorf("seed_provider entry has unexpected shape")
	}
	params, ok := provider["parameters"].([]interface{})
	if !ok || len(params) == 0 {
		return nil, lifecycle.ConfigErrorf("seed_provider has no parameters entry")
	}
	first, ok := params[0].(map[string]interface{})
	if !ok {
		return nil, lifecycle.ConfigErrorf("seed_provider parameters have unexpected shape")
	}
	first["seeds"] = seeds

	cfg["listen_address"] = nil
	cfg["rpc_address"] = nil
	cfg["start_rpc"] = true
	cfg["endpoint_snitch"] = "GossipingPropertyFileSnitch"
	cfg["auto_bootstrap"] = false

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("serializing configuration: %w", err)
	}
	return out, nil
}

// Start brings up the seed and then the remaining peers. Requires an
// initialized cluster.
func (c *Cluster) Start(ctx context.Context) error {
	return c.machine.Start(ctx)
}

// Stop tears down the peers and then the seed, clearing the tracked flags
// even when the remote commands fail.
func (c *Cluster) Stop(ctx context.Context) error {
	return c.machine.Stop(ctx)
}

// Clean removes the distributed configuration and data, stopping the fleet
// first if needed, and resets the initialized flag. Logs are kept for
// later analysis; use CleanLogs to drop them too.
func (c *Cluster) Clean(ctx context.Context) error {
	if c.Running() {
		c.Log.Warn("the cluster needs to be stopped before cleaning")
		if err := c.Stop(ctx); err != nil {
			return err
		}
	}
	c.CleanConf(ctx)
	c.CleanData(ctx)
	c.machine.Reset()
	return nil
}

// CleanConf removes the distributed configuration file from every host.
func (c *Cluster) CleanConf(ctx context.Context) {
	c.runLenient(ctx, "clean conf", "rm -rf "+filepath.Join(c.props.ConfDir, ConfFileName))
}

// CleanData removes the store's data files from every host.
func (c *Cluster) CleanData(ctx context.Context) {
	c.runLenient(ctx, "clean data", "rm -rf "+c.props.DataDir+"/*")
}

// CleanLogs removes the store's log files from every host.
func (c *Cluster) CleanLogs(ctx context.Context) {
	c.runLenient(ctx, "clean logs", "rm -rf "+c.props.LogsDir+"/*")
}

func (c *Cluster) runLenient(ctx context.Context, op, command string) {
	results, err := c.exec.RunParallel(ctx, c.hosts, command)
	if err != nil {
		c.Log.Warnw("remote failure during cleanup", "op", op, "error", err)
	}
	if f := remote.FirstFailure(results); f != nil {
		c.Log.Warnw("cleanup command failed", "op", op, "host", f.Host, "stderr", f.Stderr)
	}
}
