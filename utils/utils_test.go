package utils

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip_booking/model"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, fiber.StatusOK},
		{"not found", fmt.Errorf("%w: seat 4", model.ErrNotFound), fiber.StatusNotFound},
		{"conflict", fmt.Errorf("%w: seat 4", model.ErrConflict), fiber.StatusConflict},
		{"forbidden", model.ErrForbidden, fiber.StatusForbidden},
		{"bad request", model.ErrBadRequest, fiber.StatusBadRequest},
		{"unverified", model.ErrUnverified, fiber.StatusBadRequest},
		{"other", errors.New("db down"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex[uint]()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock(7)
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			km.Unlock(7)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.Len())
}

func TestLockAllOrdersAndDedupes(t *testing.T) {
	km := NewKeyedMutex[uint]()
	unlock := LockAll(km, []uint{3, 1, 3, 2})
	assert.Equal(t, 3, km.Len())
	unlock()
	assert.Equal(t, 0, km.Len())

	assert.Equal(t, []uint{1, 2, 3}, SortedUnique([]uint{3, 1, 3, 2}))
}

func TestGenerateQRCode(t *testing.T) {
	png, err := GenerateQRCode("BK-123", 128)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	uri, err := QRDataURI("BK-123", 128)
	require.NoError(t, err)
	assert.Contains(t, uri, "data:image/png;base64,")
}
