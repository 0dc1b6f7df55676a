package memory

import (
	"testing"

	"github.com/zuko/billingz/archive/tests"
)

func TestArchive_MemoryStore(t *testing.T) {
	testStore := NewInMemory()
	teardown := func() {
		testStore.(*store).data = map[string][]byte{}
	}
	tests.RunStoreTests(t, testStore, teardown)
}
