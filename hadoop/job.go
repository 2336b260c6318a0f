package hadoop

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Job identifiers are scraped from client output lines such as
// "... mapred.JobClient: Running job: job_201501010000_0001". The match is
// tolerant: absence of a job id is recorded, never an error.
var jobIDPattern = regexp.MustCompile(`Running job: (\S+)`)

// JarJob is an opaque MapReduce payload: a jar, its parameters and any
// extra files it needs alongside it on the execution host. The execution
// outcome is recorded on the job itself.
type JarJob struct {
	JarPath string
	Params  []string

	// LibPaths are extra local files copied next to the jar.
	LibPaths []string

	// Filled in by Cluster.ExecuteJob.
	Stdout  string
	Stderr  string
	Success bool
	JobID   string
}

func NewJarJob(jarPath string, params ...string) *JarJob {
	return &JarJob{JarPath: jarPath, Params: params}
}

// FilesToCopy lists the local files that must be present on the execution
// host before the job can run.
func (j *JarJob) FilesToCopy() []string {
	return append([]string{j.JarPath}, j.LibPaths...)
}

// Command renders the hadoop subcommand that launches the job, with the
// jar resolved inside execDir.
func (j *JarJob) Command(execDir string) string {
	parts := []string{"jar", filepath.Join(execDir, filepath.Base(j.JarPath))}
	parts = append(parts, j.Params...)
	return strings.Join(parts, " ")
}

// scanJobID extracts the job identifier from client output, returning ""
// when no identifier was printed.
func scanJobID(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "Running job") {
			continue
		}
		if !strings.Contains(line, "mapred.JobClient") && !strings.Contains(line, "mapreduce.Job") {
			continue
		}
		if m := jobIDPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

func (j *JarJob) String() string {
	return fmt.Sprintf("jar job %s", filepath.Base(j.JarPath))
}
