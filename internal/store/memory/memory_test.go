package memory_test

import (
	"testing"

	"github.com/valhallatattoo/sitecache/internal/store"
	"github.com/valhallatattoo/sitecache/internal/store/memory"
	"github.com/valhallatattoo/sitecache/internal/store/storetest"
)

func TestCacheStore(t *testing.T) {
	storetest.RunCacheStore(t, func(*testing.T) store.CacheStore { return memory.New() })
}

func TestQueueStore(t *testing.T) {
	storetest.RunQueueStore(t, func(*testing.T) store.QueueStore { return memory.New() })
}
