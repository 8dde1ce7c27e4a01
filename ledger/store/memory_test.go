package store_test

import (
	"testing"

	"github.com/warp/resident-ledger/ledger"
	"github.com/warp/resident-ledger/ledger/store"
	"github.com/warp/resident-ledger/ledger/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return store.NewMemory()
	})
}
