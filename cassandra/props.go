package cassandra

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultBaseDir is the default installation root on every host.
const DefaultBaseDir = "/tmp/cassandra"

// Properties are the operator-tunable locations of a store installation.
type Properties struct {
	BaseDir string
	ConfDir string
	LogsDir string
	DataDir string
}

func DefaultProperties() Properties {
	return Properties{
		BaseDir: DefaultBaseDir,
		ConfDir: DefaultBaseDir + "/conf",
		LogsDir: DefaultBaseDir + "/logs",
		DataDir: DefaultBaseDir + "/data",
	}
}

// LoadProperties reads an INI properties file with a [cluster] section,
// falling back to defaults for any key not present.
func LoadProperties(path string) (Properties, error) {
	defaults := DefaultProperties()

	v := viper.New()
	v.SetConfigType("ini")
	v.SetDefault("cluster.cassandra_base_dir", defaults.BaseDir)
	v.SetDefault("cluster.cassandra_conf_dir", defaults.ConfDir)
	v.SetDefault("cluster.cassandra_logs_dir", defaults.LogsDir)
	v.SetDefault("cluster.cassandra_data_dir", defaults.DataDir)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Properties{}, fmt.Errorf("reading properties file: %w", err)
		}
	}

	return Properties{
		BaseDir: v.GetString("cluster.cassandra_base_dir"),
		ConfDir: v.GetString("cluster.cassandra_conf_dir"),
		LogsDir: v.GetString("cluster.cassandra_logs_dir"),
		DataDir: v.GetString("cluster.cassandra_data_dir"),
	}, nil
}
