package memory

import (
	"testing"

	"github.com/MrEthical07/storeauth/storage"
	"github.com/MrEthical07/storeauth/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.UserStore { return New() })
}
