package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEntry(t *testing.T) {
	c := New()
	assert.Nil(t, c.GetEntry(PrefixOwner+"/dev/nvme0n1"))

	_, err := c.Load(PrefixOwner+"/dev/nvme0n1", func() (interface{}, error) {
		return "NPEM", nil
	})
	require.NoError(t, err)

	entry := c.GetEntry(PrefixOwner + "/dev/nvme0n1")
	require.NotNil(t, entry)
	assert.Equal(t, "NPEM", entry.Value)
	assert.NoError(t, entry.Err)
	assert.GreaterOrEqual(t, entry.Age(), time.Duration(0))
}

func TestLoadOnce(t *testing.T) {
	c := New()
	var calls int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Load(PrefixPresence+"VMD", func() (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				return true, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, true, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls)
}

func TestLoadCachesErrors(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return nil, boom
	}

	_, err := c.Load("k", fetch)
	assert.ErrorIs(t, err, boom)
	_, err = c.Load("k", fetch)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, c.GetEntry("k").Err, boom)
}

func TestGlobal(t *testing.T) {
	assert.Same(t, Global(), Global())
}
