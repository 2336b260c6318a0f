// Package hadoop manages the whole life-cycle of a MapReduce/HDFS cluster
// on a fleet of remote hosts: install, configuration derivation and
// distribution, start/stop of the storage and compute layers, job
// execution and cleanup. Hosts are reached only through a remote.Executor;
// the controller never assumes its commands are atomic across hosts.
//
// The controller's tracked state does not survive process restarts, so a
// freshly constructed controller cannot assume the fleet is idle: the first
// Initialize on an untracked fleet performs forced recovery, killing
// leftover managed processes before any configuration step proceeds.
package hadoop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gridexp/hadoopctl/conf"
	"github.com/gridexp/hadoopctl/lifecycle"
	"github.com/gridexp/hadoopctl/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The configuration files every cluster must carry.
const (
	CoreConfFile   = "core-site.xml"
	HDFSConfFile   = "hdfs-site.xml"
	MapRedConfFile = "mapred-site.xml"
)

// Subsystem names of the two managed service tiers.
const (
	SubsystemDFS       = "dfs"
	SubsystemMapReduce = "mapreduce"
)

var mandatoryConfFiles = []string{CoreConfFile, HDFSConfFile, MapRedConfFile}

// Process names belonging to the managed software, targeted by forced
// recovery.
var trackedProcesses = []string{
	"NameNode",
	"SecondaryNameNode",
	"DataNode",
	"JobTracker",
	"TaskTracker",
}

const requiredPackages = "openjdk-7-jre openjdk-7-jdk"

// DefaultSafeModeTimeout bounds the wait for the storage layer to leave
// safe mode during StartAndWait. Expiry is fatal to the call.
const DefaultSafeModeTimeout = 10 * time.Minute

// Cluster is the lifecycle controller for one MapReduce/HDFS cluster. It is
// not goroutine-safe: callers must serialize lifecycle operations on one
// instance.
type Cluster struct {
	Log *zap.SugaredLogger

	exec  remote.Executor
	props Properties

	hosts       []Host
	master      Host
	topology    *Topology
	hostClasses map[string][]Host

	machine *lifecycle.Machine

	javaHome        string
	scratchConfDir  string
	safeModeTimeout time.Duration
}

// Option configures a Cluster at construction.
type Option func(c *Cluster) error

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cluster) error {
		c.Log = l.Named("hadoop_cluster")
		return nil
	}
}

// WithRacks assigns a rack to each host positionally. The assignment length
// must equal the host count.
func WithRacks(racks []string) Option {
	return func(c *Cluster) error {
		t, err := NewTopology(c.hosts, racks)
		if err != nil {
			return err
		}
		c.topology = t
		return nil
	}
}

// WithPropertiesFile loads cluster properties from an INI file.
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

func WithSafeModeTimeout(d time.Duration) Option {
	return func(c *Cluster) error {
		c.safeModeTimeout = d
		return nil
	}
}

// New creates a cluster controller over the given hosts. The first host is
// the master: it runs the NameNode and the JobTracker. All tracked state
// starts false.
func New(executor remote.Executor, hosts []Host, opts ...Option) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, lifecycle.ConfigErrorf("cluster needs at least one host")
	}

	c := &Cluster{
		exec:            executor,
		props:           DefaultProperties(),
		hosts:           hosts,
		master:          hosts[0],
		hostClasses:     GroupByHardwareClass(hosts),
		safeModeTimeout: DefaultSafeModeTimeout,
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
		c.Log = l.Sugar().Named("hadoop_cluster")
	}
	if c.topology == nil {
		t, err := NewTopology(hosts, nil)
		if err != nil {
			return nil, err
		}
		c.topology = t
	}

	c.machine = lifecycle.New(c.Log, lifecycle.Subsystem{
		Name:  SubsystemDFS,
		Start: c.startDFS,
		Stop:  c.stopDFS,
		Wait:  c.waitSafeModeOff,
	}, lifecycle.Subsystem{
		Name:  SubsystemMapReduce,
		Start: c.startMapReduce,
		Stop:  c.stopMapReduce,
	})

	c.Log.Infow("hadoop cluster created",
		"master", c.master.Address,
		"hosts", len(c.hosts),
		"hardware_classes", len(c.hostClasses))
	return c, nil
}

func (c *Cluster) binDir() string  { return c.props.BaseDir + "/bin" }
func (c *Cluster) sbinDir() string { return c.props.BaseDir + "/bin" }

// Initialized reports the tracked initialized flag.
func (c *Cluster) Initialized() bool { return c.machine.Initialized() }

// Running reports whether both the storage and compute layers are tracked
// as running.
func (c *Cluster) Running() bool { return c.machine.Running() }

// RunningDFS reports the tracked flag of the storage layer.
func (c *Cluster) RunningDFS() bool { return c.machine.SubsystemRunning(SubsystemDFS) }

// RunningMapReduce reports the tracked flag of the compute layer.
func (c *Cluster) RunningMapReduce() bool { return c.machine.SubsystemRunning(SubsystemMapReduce) }

// Topology returns the cluster's host-to-rack mapping.
func (c *Cluster) Topology() *Topology { return c.topology }

// ScratchConfDir returns the local directory holding the configuration
// bundle of the last successful Initialize, or "".
func (c *Cluster) ScratchConfDir() string { return c.scratchConfDir }

func (c *Cluster) runStrict(ctx context.Context, op, host, command string) (*remote.Result, error) {
	res, err := c.exec.Run(ctx, host, command)
	if err != nil {
		return nil, &lifecycle.RemoteError{Op: op, Host: host, Err: err}
	}
	if !res.Ok() {
		return res, &lifecycle.RemoteError{Op: op, Host: host, Detail: strings.TrimSpace(res.Stderr)}
	}
	return res, nil
}

// Bootstrap installs the software on every host from the given tar.gz
// archive: prior install directories are removed first, so the operation is
// idempotent and requires no particular fleet state. After installing it
// verifies the reported version belongs to the supported family and returns
// a VersionMismatchError otherwise, leaving tracked state unchanged.
func (c *Cluster) Bootstrap(ctx context.Context, tarFile string) error {
	addrs := Addresses(c.hosts)

	results, err := c.exec.RunParallel(ctx, addrs, "dpkg -s "+requiredPackages)
	if err != nil || !remote.AllOk(results) {
		c.Log.Info("required packages not installed, trying to install")
		installErr := remote.RunAll(c.exec, addrs,
			"export DEBIAN_FRONTEND=noninteractive ; "+
				"apt-get update && apt-get install -y --force-yes "+requiredPackages)(ctx)
		if installErr != nil {
			c.Log.Errorw("unable to install the required packages", "error", installErr)
		}
	}

	javaHomeRes, err := c.runStrict(ctx, "detect JAVA_HOME", c.master.Address,
		`echo $(readlink -f /usr/bin/javac | sed "s:/bin/javac::")`)
	if err != nil {
		return err
	}
	c.javaHome = strings.TrimSpace(javaHomeRes.Stdout)

	tarBase := filepath.Base(tarFile)
	unpacked := strings.TrimSuffix(tarBase, ".tar.gz")

	c.Log.Infow("copying archive to hosts and unpacking", "archive", tarFile)
	err = remote.Sequential(ctx,
		remote.RunAll(c.exec, addrs, strings.Join([]string{
			"rm -rf",
			c.props.BaseDir,
			c.props.ConfDir,
			c.props.LogsDir,
			c.props.TempDir,
		}, " ")),
		remote.Push(c.exec, addrs, []string{tarFile}, "/tmp"),
		remote.RunAll(c.exec, addrs, "tar xf /tmp/"+tarBase+" -C /tmp"),
		remote.RunAll(c.exec, addrs, "mv /tmp/"+unpacked+" "+c.props.BaseDir),
		remote.RunAll(c.exec, addrs,
			"mkdir -p "+c.props.ConfDir+
				" && mkdir -p "+c.props.LogsDir+
				" && mkdir -p "+c.props.TempDir),
		remote.RunAll(c.exec, addrs,
			"chmod g+w "+c.props.BaseDir+
				" && chmod g+w "+c.props.ConfDir+
				" && chmod g+w "+c.props.LogsDir+
				" && chmod g+w "+c.props.TempDir),
	)
	if err != nil {
		return fmt.Errorf("installing archive: %w", err)
	}

	env := "cat >> " + c.props.ConfDir + "/hadoop-env.sh << EOF\n" +
		"export JAVA_HOME=" + c.javaHome + "\n" +
		"export HADOOP_LOG_DIR=" + c.props.LogsDir + "\n" +
		"HADOOP_HOME_WARN_SUPPRESS=\"TRUE\"\n" +
		"EOF"
	if err := remote.RunAll(c.exec, addrs, env)(ctx); err != nil {
		return fmt.Errorf("writing environment bootstrap: %w", err)
	}

	return c.checkVersionCompliance(ctx)
}

func (c *Cluster) checkVersionCompliance(ctx context.Context) error {
	version, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(version, "Hadoop 0.") && !strings.HasPrefix(version, "Hadoop 1.") {
		return &lifecycle.VersionMismatchError{Installed: version, Family: "Hadoop 0.x/1.x"}
	}
	return nil
}

// Version returns the first line reported by "hadoop version" on the
// master.
func (c *Cluster) Version(ctx context.Context) (string, error) {
	command := c.binDir() + "/hadoop version"
	if c.javaHome != "" {
		command = "export JAVA_HOME=" + c.javaHome + "; " + command
	}
	res, err := c.runStrict(ctx, "query version", c.master.Address, command)
	if err != nil {
		return "", err
	}
	lines := strings.SplitN(res.Stdout, "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

// Initialize brings the cluster to a freshly configured state: it
// establishes a clean slate (gracefully when the tracked state can be
// trusted, via forced recovery when it cannot), builds the configuration
// bundle, distributes it per hardware class and formats the storage layer.
// The initialized flag flips only after every sub-step succeeds; on failure
// the scratch bundle is released and the call may safely be retried.
func (c *Cluster) Initialize(ctx context.Context) error {
	if err := c.preInitialize(ctx); err != nil {
		return err
	}

	c.Log.Info("initializing hadoop")

	scratch, err := os.MkdirTemp("", "hadoop-conf-")
	if err != nil {
		return fmt.Errorf("creating scratch config dir: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(scratch)
		}
	}()

	if err := c.copyBaseConf(ctx, scratch); err != nil {
		return err
	}
	if err := c.writeMembershipFiles(scratch); err != nil {
		return err
	}
	if err := c.topology.WriteFiles(scratch); err != nil {
		return err
	}

	// Per hardware-class configuration touches disjoint hosts and disjoint
	// scratch copies, so the groups run concurrently. Steps within one
	// group stay strictly ordered.
	group, groupCtx := errgroup.WithContext(ctx)
	for class, hosts := range c.hostClasses {
		class, hosts := class, hosts
		group.Go(func() error {
			return c.configureGroup(groupCtx, class, hosts, scratch)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if err := c.FormatStorage(ctx); err != nil {
		return err
	}

	c.scratchConfDir = scratch
	ok = true
	c.machine.SetInitialized(true)
	return nil
}

// preInitialize establishes a clean slate. A tracked cluster goes through
// the graceful stop+clean path; an untracked one cannot be trusted to be
// idle, so it goes through forced recovery instead.
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
	} else {
		if err := c.forceClean(ctx); err != nil {
			return err
		}
	}
	c.machine.SetInitialized(false)
	return nil
}

// copyBaseConf assembles the base bundle in scratch: operator-provided
// files from the local base conf dir first, then any missing mandatory file
// fetched from the master's live configuration.
func (c *Cluster) copyBaseConf(ctx context.Context, scratch string) error {
	present := map[string]bool{}
	entries, err := os.ReadDir(c.props.LocalBaseConfDir)
	if err != nil {
		c.Log.Warn("local conf dir does not exist, using default configuration")
	} else {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			src := filepath.Join(c.props.LocalBaseConfDir, e.Name())
			if err := copyLocalFile(src, filepath.Join(scratch, e.Name())); err != nil {
				return err
			}
			present[e.Name()] = true
		}
	}

	var missing []string
	for _, f := range mandatoryConfFiles {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	c.Log.Infow("fetching missing mandatory config files from master", "files", missing)
	remotePaths := make([]string, len(missing))
	for i, f := range missing {
		remotePaths[i] = filepath.Join(c.props.ConfDir, f)
	}
	if err := c.exec.CopyFrom(ctx, c.master.Address, remotePaths, scratch); err != nil {
		return lifecycle.ConfigErrorf(
			"mandatory config files %v are not provided locally and could not be fetched from %s: %v",
			missing, c.master.Address, err)
	}
	return nil
}

func (c *Cluster) writeMembershipFiles(dir string) error {
	masters := c.master.Address + "\n"
	if err := os.WriteFile(filepath.Join(dir, "masters"), []byte(masters), 0o644); err != nil {
		return fmt.Errorf("writing masters file: %w", err)
	}
	var slaves strings.Builder
	for _, h := range c.hosts {
		slaves.WriteString(h.Address)
		slaves.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(dir, "slaves"), []byte(slaves.String()), 0o644)
}

// configureGroup derives the configuration for one hardware class from a
// representative host and distributes the resulting bundle to every member.
func (c *Cluster) configureGroup(ctx context.Context, class string, hosts []Host, scratch string) error {
	groupDir, err := os.MkdirTemp("", "hadoop-conf-"+class+"-")
	if err != nil {
		return fmt.Errorf("creating scratch dir for class %s: %w", class, err)
	}
	defer os.RemoveAll(groupDir)

	files, err := copyLocalDir(scratch, groupDir)
	if err != nil {
		return err
	}

	bundle, err := loadBundleDir(groupDir)
	if err != nil {
		return err
	}

	sizing := ComputeSizing(hosts[0])
	c.Log.Infow("computed sizing for hardware class",
		"class", class, "slots", sizing.Slots, "mem_per_slot_mb", sizing.MemPerSlotMB)

	set := func(name, value string) error {
		_, err := bundle.SetOrAppend(name, value, true)
		return err
	}

	if err := set("fs.default.name",
		fmt.Sprintf("hdfs://%s:%d/", c.master.Address, c.props.HDFSPort)); err != nil {
		return err
	}
	if err := set("hadoop.tmp.dir", c.props.TempDir); err != nil {
		return err
	}
	if err := set("topology.script.file.name",
		filepath.Join(c.props.ConfDir, TopologyScriptName)); err != nil {
		return err
	}
	if err := set("mapred.job.tracker",
		fmt.Sprintf("%s:%d", c.master.Address, c.props.MapRedPort)); err != nil {
		return err
	}

	if sizing.Slots <= 0 {
		c.Log.Warnw("hardware class has no cores to spare, skipping worker slot settings",
			"class", class)
	} else {
		if err := set("mapred.tasktracker.map.tasks.maximum", fmt.Sprint(sizing.Slots)); err != nil {
			return err
		}
		if err := set("mapred.tasktracker.reduce.tasks.maximum", fmt.Sprint(sizing.Slots)); err != nil {
			return err
		}
	}
	if sizing.MemPerSlotMB <= 0 {
		c.Log.Warnw("per-slot memory is not positive, skipping memory setting", "class", class)
	} else {
		if err := set("mapred.child.java.opts",
			fmt.Sprintf("-Xmx%dm", sizing.MemPerSlotMB)); err != nil {
			return err
		}
	}

	if err := bundle.Save(groupDir); err != nil {
		return err
	}
	if err := c.exec.CopyTo(ctx, Addresses(hosts), files, c.props.ConfDir); err != nil {
		return &lifecycle.RemoteError{Op: "distribute configuration to class " + class, Err: err}
	}
	return nil
}

// FormatStorage formats the distributed filesystem on the master. A format
// failure aborts the enclosing initialize.
func (c *Cluster) FormatStorage(ctx context.Context) error {
	c.Log.Info("formatting HDFS")
	_, err := c.runStrict(ctx, "format HDFS", c.master.Address,
		c.binDir()+"/hadoop namenode -format")
	return err
}

// Start brings up the storage layer and then the compute layer. Requires an
// initialized cluster.
func (c *Cluster) Start(ctx context.Context) error {
	return c.machine.Start(ctx)
}

// StartAndWait is Start, additionally blocking until the storage layer
// leaves safe mode (bounded by the safe-mode timeout) before the compute
// layer comes up.
func (c *Cluster) StartAndWait(ctx context.Context) error {
	return c.machine.StartAndWait(ctx)
}

// Stop tears down the compute layer and then the storage layer. Remote
// failures are downgraded to warnings and the tracked flags are cleared
// regardless, so cleanup always proceeds.
func (c *Cluster) Stop(ctx context.Context) error {
	return c.machine.Stop(ctx)
}

// StartDFS starts only the storage layer.
func (c *Cluster) StartDFS(ctx context.Context) error {
	return c.machine.StartSubsystem(ctx, SubsystemDFS, false)
}

// StartDFSAndWait starts the storage layer and waits for safe mode to be
// off.
func (c *Cluster) StartDFSAndWait(ctx context.Context) error {
	return c.machine.StartSubsystem(ctx, SubsystemDFS, true)
}

// StartMapReduce starts only the compute layer.
func (c *Cluster) StartMapReduce(ctx context.Context) error {
	return c.machine.StartSubsystem(ctx, SubsystemMapReduce, false)
}

// StopDFS stops only the storage layer.
func (c *Cluster) StopDFS(ctx context.Context) error {
	return c.machine.StopSubsystem(ctx, SubsystemDFS)
}

// StopMapReduce stops only the compute layer.
func (c *Cluster) StopMapReduce(ctx context.Context) error {
	return c.machine.StopSubsystem(ctx, SubsystemMapReduce)
}

func (c *Cluster) startDFS(ctx context.Context) error {
	_, err := c.runStrict(ctx, "start HDFS", c.master.Address, c.sbinDir()+"/start-dfs.sh")
	return err
}

func (c *Cluster) stopDFS(ctx context.Context) error {
	_, err := c.runStrict(ctx, "stop HDFS", c.master.Address, c.sbinDir()+"/stop-dfs.sh")
	return err
}

func (c *Cluster) startMapReduce(ctx context.Context) error {
	_, err := c.runStrict(ctx, "start MapReduce", c.master.Address, c.sbinDir()+"/start-mapred.sh")
	return err
}

func (c *Cluster) stopMapReduce(ctx context.Context) error {
	_, err := c.runStrict(ctx, "stop MapReduce", c.master.Address, c.sbinDir()+"/stop-mapred.sh")
	return err
}

func (c *Cluster) waitSafeModeOff(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.safeModeTimeout)
	defer cancel()
	_, err := c.runStrict(waitCtx, "wait for safe mode to be off", c.master.Address,
		c.binDir()+"/hadoop dfsadmin -safemode wait")
	return err
}

// autoStart starts the cluster with a warning when an execution is
// requested while it is stopped.
func (c *Cluster) autoStart(ctx context.Context) error {
	if c.Running() {
		return nil
	}
	c.Log.Warn("the cluster was stopped, starting it automatically")
	return c.Start(ctx)
}

// Execute runs an operator-supplied hadoop command on the master, starting
// the cluster first if needed.
func (c *Cluster) Execute(ctx context.Context, command string) (*remote.Result, error) {
	return c.ExecuteOn(ctx, "", command)
}

// ExecuteOn runs an operator-supplied hadoop command on the chosen host, or
// on the master when host is empty.
func (c *Cluster) ExecuteOn(ctx context.Context, host, command string) (*remote.Result, error) {
	if err := c.machine.CheckInitialized("execute"); err != nil {
		return nil, err
	}
	if err := c.autoStart(ctx); err != nil {
		return nil, err
	}
	if host == "" {
		host = c.master.Address
	}
	c.Log.Infow("executing command", "command", command, "host", host)
	res, err := c.exec.Run(ctx, host, c.binDir()+"/hadoop "+command)
	if err != nil {
		return nil, &lifecycle.RemoteError{Op: "execute command", Host: host, Err: err}
	}
	return res, nil
}

// ExecuteJob copies the job payload to the chosen host (master when empty),
// runs it and records stdout, stderr, success and the scraped job id on the
// job. A missing job id is recorded as empty, not treated as an error.
func (c *Cluster) ExecuteJob(ctx context.Context, job *JarJob, host string) error {
	if err := c.machine.CheckInitialized("execute job"); err != nil {
		return err
	}
	if err := c.autoStart(ctx); err != nil {
		return err
	}
	if host == "" {
		host = c.master.Address
	}

	execDir := "/tmp/hadoop-job-" + uuid.NewString()
	if err := remote.RunAll(c.exec, []string{host}, "mkdir -p "+execDir)(ctx); err != nil {
		return err
	}
	if err := c.exec.CopyTo(ctx, []string{host}, job.FilesToCopy(), execDir); err != nil {
		return &lifecycle.RemoteError{Op: "copy job files", Host: host, Err: err}
	}

	command := c.binDir() + "/hadoop " + job.Command(execDir)
	c.Log.Infow("executing jar job", "command", command, "host", host)
	res, err := c.exec.Run(ctx, host, command)
	if err != nil {
		return &lifecycle.RemoteError{Op: "execute job", Host: host, Err: err}
	}

	job.Stdout = res.Stdout
	job.Stderr = res.Stderr
	job.Success = res.Ok()
	job.JobID = scanJobID(res.Stdout)
	if job.JobID == "" {
		c.Log.Warnw("no job id found in job output", "job", job.String())
	}
	return nil
}

// ChangeConf retunes the configuration of the fleet without a full
// reinitialize. Per hardware class, the current files are fetched from a
// representative host, every requested key is replaced in place or appended
// to the designated fallback file, and the updated files are redistributed
// to the whole class. The new values take effect on the next restart.
func (c *Cluster) ChangeConf(ctx context.Context, params map[string]string) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for class, hosts := range c.hostClasses {
		bundle, tmpDir, err := c.fetchConf(ctx, hosts[0].Address)
		if err != nil {
			return err
		}
		for _, name := range names {
			found, err := bundle.SetOrAppend(name, params[name], true)
			if err != nil {
				os.RemoveAll(tmpDir)
				return err
			}
			if !found {
				c.Log.Infow("property not present in any file, appended to fallback",
					"property", name, "file", bundle.Fallback)
			}
		}
		if err := bundle.Save(tmpDir); err != nil {
			os.RemoveAll(tmpDir)
			return err
		}
		var files []string
		for _, f := range bundle.Files {
			files = append(files, filepath.Join(tmpDir, f.Name))
		}
		err = c.exec.CopyTo(ctx, Addresses(hosts), files, c.props.ConfDir)
		os.RemoveAll(tmpDir)
		if err != nil {
			return &lifecycle.RemoteError{Op: "redistribute configuration to class " + class, Err: err}
		}
	}
	return nil
}

// GetConf fetches the current configuration from a representative host and
// returns the values of the requested properties that exist. Unknown names
// are silently absent from the result.
func (c *Cluster) GetConf(ctx context.Context, names []string) (map[string]string, error) {
	bundle, tmpDir, err := c.fetchConf(ctx, c.hosts[0].Address)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)
	return bundle.Lookup(names), nil
}

// fetchConf copies the XML configuration files from one host into a fresh
// local scratch dir and loads them as a bundle. The caller owns the dir.
func (c *Cluster) fetchConf(ctx context.Context, host string) (*conf.Bundle, string, error) {
	res, err := c.runStrict(ctx, "list remote config files", host, "ls "+c.props.ConfDir+"/*.xml")
	if err != nil {
		return nil, "", err
	}
	var remotePaths []string
	for _, f := range strings.Fields(res.Stdout) {
		remotePaths = append(remotePaths, filepath.Join(c.props.ConfDir, filepath.Base(f)))
	}

	tmpDir, err := os.MkdirTemp("", "hadoop-conf-fetch-")
	if err != nil {
		return nil, "", fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := c.exec.CopyFrom(ctx, host, remotePaths, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return nil, "", &lifecycle.RemoteError{Op: "fetch configuration", Host: host, Err: err}
	}
	bundle, err := loadBundleDir(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, "", err
	}
	return bundle, tmpDir, nil
}

// CopyHistory copies job history logs from the master into dest. With a
// non-empty jobIDs only the history of those jobs is copied.
func (c *Cluster) CopyHistory(ctx context.Context, dest string, jobIDs []string) error {
	if _, err := os.Stat(dest); err != nil {
		c.Log.Warnw("destination directory does not exist, creating it", "dest", dest)
		if err := os.MkdirAll(dest, 0o777); err != nil {
			return fmt.Errorf("creating destination dir: %w", err)
		}
	}

	historyDir := filepath.Join(c.props.LogsDir, "history")
	pattern := "-name job_*"
	if len(jobIDs) > 0 {
		var parts []string
		for _, id := range jobIDs {
			parts = append(parts, "-name "+id+"*")
		}
		pattern = strings.Join(parts, " -o ")
	}
	res, err := c.runStrict(ctx, "list history files", c.master.Address,
		"find "+historyDir+" "+pattern)
	if err != nil {
		return err
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := c.exec.CopyFrom(ctx, c.master.Address, files, dest); err != nil {
		return &lifecycle.RemoteError{Op: "copy history", Host: c.master.Address, Err: err}
	}
	return nil
}

// stopForCleaning stops the cluster if it is running and reports whether it
// should be restarted afterwards.
func (c *Cluster) stopForCleaning(ctx context.Context) (restart bool, err error) {
	if !c.Running() {
		return false, nil
	}
	c.Log.Warn("the cluster needs to be stopped before cleaning")
	return true, c.Stop(ctx)
}

// CleanHistory removes the job history from the master.
func (c *Cluster) CleanHistory(ctx context.Context) error {
	c.Log.Info("cleaning history")
	restart, err := c.stopForCleaning(ctx)
	if err != nil {
		return err
	}
	c.runLenient(ctx, "clean history", []string{c.master.Address},
		"rm -rf "+filepath.Join(c.props.LogsDir, "history"))
	if restart {
		return c.Start(ctx)
	}
	return nil
}

// CleanConf releases the local scratch configuration bundle of the last
// Initialize. The distributed copies stay on the hosts so that a later
// Initialize can still fetch mandatory files from the master.
func (c *Cluster) CleanConf() error {
	if c.scratchConfDir == "" {
		return nil
	}
	err := os.RemoveAll(c.scratchConfDir)
	c.scratchConfDir = ""
	return err
}

// CleanLogs removes all logs on every host, stopping the cluster first if
// needed and restarting it afterwards.
func (c *Cluster) CleanLogs(ctx context.Context) error {
	c.Log.Info("cleaning logs")
	restart, err := c.stopForCleaning(ctx)
	if err != nil {
		return err
	}
	c.removeLogs(ctx)
	if restart {
		return c.Start(ctx)
	}
	return nil
}

// CleanData removes all data created by the managed software, including the
// distributed filesystem, stopping the cluster first if needed.
func (c *Cluster) CleanData(ctx context.Context) error {
	c.Log.Info("cleaning hadoop data")
	if _, err := c.stopForCleaning(ctx); err != nil {
		return err
	}
	c.removeData(ctx)
	return nil
}

// Clean removes everything the managed software created (configuration
// scratch, logs, data) and resets the initialized flag. The cluster is
// stopped first if it was running.
func (c *Cluster) Clean(ctx context.Context) error {
	if _, err := c.stopForCleaning(ctx); err != nil {
		return err
	}
	if err := c.CleanConf(); err != nil {
		return err
	}
	c.removeLogs(ctx)
	c.removeData(ctx)
	c.machine.Reset()
	return nil
}

func (c *Cluster) removeLogs(ctx context.Context) {
	c.runLenient(ctx, "clean logs", Addresses(c.hosts), "rm -rf "+c.props.LogsDir+"/*")
}

func (c *Cluster) removeData(ctx context.Context) {
	c.runLenient(ctx, "clean data", Addresses(c.hosts),
		"rm -rf "+c.props.TempDir+" /tmp/hadoop-$(whoami)-*")
}

// runLenient runs a cleanup command and downgrades any failure to a
// warning, so repeated cleanup attempts converge.
func (c *Cluster) runLenient(ctx context.Context, op string, hosts []string, command string) {
	results, err := c.exec.RunParallel(ctx, hosts, command)
	if err != nil {
		c.Log.Warnw("remote failure during cleanup", "op", op, "error", err)
	}
	if f := remote.FirstFailure(results); f != nil {
		c.Log.Warnw("cleanup command failed", "op", op, "host", f.Host, "stderr", f.Stderr)
	}
}

// forceClean is the recovery path for untracked fleet state: it scans every
// host for leftover managed processes, kills them by pid and removes logs
// and data. It assumes no tracked configuration exists yet, so the scratch
// bundle is left alone.
func (c *Cluster) forceClean(ctx context.Context) error {
	tracked := map[string]bool{}
	for _, p := range trackedProcesses {
		tracked[p] = true
	}

	forceKilled := false
	for _, h := range c.hosts {
		res, err := c.exec.Run(ctx, h.Address, "jps")
		if err != nil {
			c.Log.Warnw("unable to list processes during forced recovery",
				"host", h.Address, "error", err)
			continue
		}
		var pids []string
		for _, line := range strings.Split(res.Stdout, "\n") {
			fields := strings.Fields(line)
			if len(fields) == 2 && tracked[fields[1]] {
				pids = append(pids, fields[0])
			}
		}
		if len(pids) == 0 {
			continue
		}
		forceKilled = true
		c.runLenient(ctx, "kill leftover processes", []string{h.Address},
			"kill -9 "+strings.Join(pids, " "))
	}
	if forceKilled {
		c.Log.Info("processes from a previous deployment had to be killed")
	}

	c.removeLogs(ctx)
	c.removeData(ctx)
	return nil
}

// Reconcile probes the actual remote state and overwrites the tracked
// flags with it. The tracked state is a cache, not a source of truth; call
// this after constructing a controller against a fleet whose history is
// unknown, instead of trusting the all-false defaults.
func (c *Cluster) Reconcile(ctx context.Context) error {
	res, err := c.exec.Run(ctx, c.master.Address, "jps")
	if err != nil {
		return &lifecycle.RemoteError{Op: "probe processes", Host: c.master.Address, Err: err}
	}
	dfsUp := false
	mrUp := false
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[1] {
		case "NameNode":
			dfsUp = true
		case "JobTracker":
			mrUp = true
		}
	}

	confRes, err := c.exec.Run(ctx, c.master.Address,
		"test -f "+filepath.Join(c.props.ConfDir, CoreConfFile))
	if err != nil {
		return &lifecycle.RemoteError{Op: "probe configuration", Host: c.master.Address, Err: err}
	}

	c.machine.SetInitialized(confRes.Ok())
	c.machine.SetSubsystemRunning(SubsystemDFS, dfsUp)
	c.machine.SetSubsystemRunning(SubsystemMapReduce, mrUp)
	c.Log.Infow("reconciled tracked state from fleet",
		"initialized", confRes.Ok(), "dfs", dfsUp, "mapreduce", mrUp)
	return nil
}

// loadBundleDir loads every XML file in dir as a bundle. The scan order is
// fixed: the mandatory files in canonical order first, then any remaining
// files sorted by name. The compute-layer file receives appended
// properties.
func loadBundleDir(dir string) (*conf.Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir: %w", err)
	}
	present := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".xml") {
			present[e.Name()] = true
		}
	}

	var names []string
	for _, f := range mandatoryConfFiles {
		if present[f] {
			names = append(names, f)
			delete(present, f)
		}
	}
	var rest []string
	for f := range present {
		rest = append(rest, f)
	}
	sort.Strings(rest)
	names = append(names, rest...)

	paths := make([]string, len(names))
	for i, f := range names {
		paths[i] = filepath.Join(dir, f)
	}
	bundle, err := conf.Load(paths, MapRedConfFile)
	if err != nil {
		return nil, err
	}
	if bundle.File(MapRedConfFile) == nil {
		bundle.Files = append(bundle.Files, &conf.File{Name: MapRedConfFile})
	}
	return bundle, nil
}

func copyLocalFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %q: %w", src, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, b, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %q: %w", dst, err)
	}
	return nil
}

// copyLocalDir copies the regular files of src into dst and returns the
// destination paths.
func copyLocalDir(src, dst string) ([]string, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", src, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dstPath := filepath.Join(dst, e.Name())
		if err := copyLocalFile(filepath.Join(src, e.Name()), dstPath); err != nil {
			return nil, err
		}
		files = append(files, dstPath)
	}
	return files, nil
}
