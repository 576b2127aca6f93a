package main

import (
	"os"
	"time"

	"github.com/GIScience/oshdb-sub001/history"
	testutils "github.com/GIScience/oshdb-sub001/test_utils"
	"gopkg.in/yaml.v3"
)

type ClusterConfig struct {
	Nodes      int `yaml:"nodes"`
	Partitions int `yaml:"partitions"`
	Backups    int `yaml:"backups"`
	CacheSize  int `yaml:"cache_size"`
	Workers    int `yaml:"workers"`
}

type DatasetConfig struct {
	Zoom     uint8  `yaml:"zoom"`
	From     uint64 `yaml:"from"`
	To       uint64 `yaml:"to"`
	Entities int    `yaml:"entities"`
	Versions int    `yaml:"versions"`
	Seed     uint64 `yaml:"seed"`
}

type Config struct {
	// Dir holds the sqlite file and node stores; a temporary directory
	// when empty.
	Dir        string        `yaml:"dir"`
	Backend    string        `yaml:"backend"`
	SQLWorkers int           `yaml:"sql_workers"`
	Timeout    time.Duration `yaml:"timeout"`
	LogLevel   string        `yaml:"log_level"`
	Trace      bool          `yaml:"trace"`
	Cluster    ClusterConfig `yaml:"cluster"`
	// Dataset, when set, is loaded on start.
	Dataset *DatasetConfig `yaml:"dataset"`
}

func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "cluster-localpeek"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Cluster.Nodes <= 0 {
		c.Cluster.Nodes = 3
	}
	if c.Cluster.Partitions <= 0 {
		c.Cluster.Partitions = 64
	}
}

func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.SetDefaults()
	return cfg, nil
}

func datasetParams(d *DatasetConfig) testutils.Params {
	p := testutils.Params{
		Zoom:     d.Zoom,
		Types:    history.AllTypes,
		Entities: d.Entities,
		Versions: d.Versions,
		Seed:     d.Seed,
	}
	for id := d.From; id <= d.To; id++ {
		p.IDs = append(p.IDs, id)
	}
	return p
}
