package reprisedb

import (
	"github.com/pkg/errors"

	"go4.org/jsonconfig"

	"github.com/tf198/reprisedb/kv"
	"github.com/tf198/reprisedb/kv/leveldbkv"
	"github.com/tf198/reprisedb/kv/memdriver"
)

// OpenFromConfig builds a Driver from a flat JSON object and opens a
// Database on it. The only required key is "type", either "leveldb" or
// "memory"; "leveldb" additionally requires "path", the base directory
// each collection's and index's sub-store is created underneath.
//
//	{"type": "leveldb", "path": "/var/lib/reprisedb"}
//	{"type": "memory"}
func OpenFromConfig(cfg jsonconfig.Obj) (*Database, error) {
	driverType := cfg.RequiredString("type")
	var path string
	if driverType == "leveldb" {
		path = cfg.RequiredString("path")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := newDriver(driverType, path)
	if err != nil {
		return nil, err
	}
	return Open(driver)
}

// OpenFromConfigFile reads a flat JSON config object from configPath and
// opens a Database on the driver it describes.
func OpenFromConfigFile(configPath string) (*Database, error) {
	cfg, err := jsonconfig.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return OpenFromConfig(cfg)
}

func newDriver(driverType, path string) (kv.Driver, error) {
	switch driverType {
	case "leveldb":
		return leveldbkv.Open(path)
	case "memory":
		return memdriver.New(), nil
	default:
		return nil, errors.Errorf("reprisedb: unknown driver type %q", driverType)
	}
}
