package memdriver_test

import (
	"testing"

	"github.com/tf198/reprisedb/kv/kvtest"
	"github.com/tf198/reprisedb/kv/memdriver"
)

func TestMemDriver(t *testing.T) {
	kvtest.TestDriver(t, memdriver.New())
}
