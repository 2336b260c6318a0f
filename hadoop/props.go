package hadoop

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default locations and ports for the managed installation.
const (
	DefaultBaseDir = "/tmp/hadoop"

	DefaultHDFSPort   = 54310
	DefaultMapRedPort = 54311

	DefaultLocalBaseConfDir = "conf"
)

// Properties are the operator-tunable locations and ports of a cluster.
// They are fleet-wide: every host uses the same directories.
type Properties struct {
	BaseDir string
	ConfDir string
	LogsDir string
	TempDir string

	HDFSPort   int
	MapRedPort int

	// LocalBaseConfDir is the local directory holding operator-provided
	// base configuration files, overlaid during initialization.
	LocalBaseConfDir string
}

// DefaultProperties returns the properties used when no config file is
// given.
func DefaultProperties() Properties {
	return Properties{
		BaseDir:          DefaultBaseDir,
		ConfDir:          DefaultBaseDir + "/conf",
		LogsDir:          DefaultBaseDir + "/logs",
		TempDir:          DefaultBaseDir + "/tmp",
		HDFSPort:         DefaultHDFSPort,
		MapRedPort:       DefaultMapRedPort,
		LocalBaseConfDir: DefaultLocalBaseConfDir,
	}
}

// LoadProperties reads an INI properties file with [cluster] and [local]
// sections, falling back to defaults for any key not present.
func LoadProperties(path string) (Properties, error) {
	defaults := DefaultProperties()

	v := viper.New()
	v.SetConfigType("ini")
	v.SetDefault("cluster.hadoop_base_dir", defaults.BaseDir)
	v.SetDefault("cluster.hadoop_conf_dir", defaults.ConfDir)
	v.SetDefault("cluster.hadoop_logs_dir", defaults.LogsDir)
	v.SetDefault("cluster.hadoop_temp_dir", defaults.TempDir)
	v.SetDefault("cluster.hdfs_port", defaults.HDFSPort)
	v.SetDefault("cluster.mapred_port", defaults.MapRedPort)
	v.SetDefault("local.local_base_conf_dir", defaults.LocalBaseConfDir)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Properties{}, fmt.Errorf("reading properties file: %w", err)
		}
	}

	return Properties{
		BaseDir:          v.GetString("cluster.hadoop_base_dir"),
		ConfDir:          v.GetString("cluster.hadoop_conf_dir"),
		LogsDir:          v.GetString("cluster.hadoop_logs_dir"),
		TempDir:          v.GetString("cluster.hadoop_temp_dir"),
		HDFSPort:         v.GetInt("cluster.hdfs_port"),
		MapRedPort:       v.GetInt("cluster.mapred_port"),
		LocalBaseConfDir: v.GetString("local.local_base_conf_dir"),
	}, nil
}
