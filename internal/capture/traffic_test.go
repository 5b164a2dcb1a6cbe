// internal/capture/traffic_test.go
package capture

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

func TestTrafficLog_AppendAndRead(t *testing.T) {
	t.Parallel()

	log := NewTrafficLog(0)
	assert.Zero(t, log.Len())

	log.Append(schemasExchange("GET", "https://api.example.com/items", 200))
	log.Append(schemasExchange("POST", "https://api.example.com/items", 201))

	require.Equal(t, 2, log.Len())

	exchanges := log.Exchanges()
	require.Len(t, exchanges, 2)
	assert.Equal(t, "GET", exchanges[0].Method)
	assert.Equal(t, "POST", exchanges[1].Method)
	assert.Equal(t, 201, exchanges[1].Status)
}

func TestTrafficLog_BodyTruncation(t *testing.T) {
	t.Parallel()

	t.Run("caps bodies at the configured limit", func(t *testing.T) {
		t.Parallel()
		log := NewTrafficLog(5)

		ex := schemasExchange("POST", "https://api.example.com/items", 200)
		ex.ReqBody = []byte("0123456789")
		ex.RespBody = []byte("abcdefghij")
		log.Append(ex)

		got := log.Exchanges()[0]
		assert.Equal(t, []byte("01234"), got.ReqBody)
		assert.Equal(t, []byte("abcde"), got.RespBody)
	})

	t.Run("zero limit disables truncation", func(t *testing.T) {
		t.Parallel()
		log := NewTrafficLog(0)

		ex := schemasExchange("POST", "https://api.example.com/items", 200)
		ex.RespBody = []byte("abcdefghij")
		log.Append(ex)

		assert.Equal(t, []byte("abcdefghij"), log.Exchanges()[0].RespBody)
	})
}

func TestTrafficLog_ExchangesReturnsCopy(t *testing.T) {
	t.Parallel()

	log := NewTrafficLog(0)
	log.Append(schemasExchange("GET", "https://api.example.com/items", 200))

	first := log.Exchanges()
	first[0].Method = "DELETE"

	assert.Equal(t, "GET", log.Exchanges()[0].Method, "mutating the returned slice must not affect the log")
}

func TestTrafficLog_ConcurrentAppends(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := NewTrafficLog(0)

	const writers = 16
	const perWriter = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				log.Append(schemasExchange("GET", fmt.Sprintf("https://api.example.com/items/%d-%d", i, j), 200))
				_ = log.Len()
				_ = log.Exchanges()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, log.Len())
}

func TestMergeReaders(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cdp := NewTrafficLog(0)
	ex := schemasExchange("GET", "https://api.example.com/items", 200)
	ex.StartedAt = base.Add(2 * time.Second)
	cdp.Append(ex)

	proxy := NewTrafficLog(0)
	ex = schemasExchange("POST", "https://api.example.com/items", 201)
	ex.StartedAt = base
	proxy.Append(ex)
	ex = schemasExchange("DELETE", "https://api.example.com/items/1", 204)
	ex.StartedAt = base.Add(5 * time.Second)
	proxy.Append(ex)

	merged := MergeReaders(cdp, proxy)
	require.Equal(t, 3, merged.Len())

	got := merged.Exchanges()
	require.Len(t, got, 3)
	assert.Equal(t, "POST", got[0].Method, "exchanges are ordered by start time across readers")
	assert.Equal(t, "GET", got[1].Method)
	assert.Equal(t, "DELETE", got[2].Method)
}

func TestMergeReaders_SkipsNil(t *testing.T) {
	t.Parallel()

	log := NewTrafficLog(0)
	log.Append(schemasExchange("GET", "https://api.example.com/items", 200))

	merged := MergeReaders(nil, log, nil)
	assert.Equal(t, 1, merged.Len())
	assert.Equal(t, "GET", merged.Exchanges()[0].Method)
}

// schemasExchange builds a minimal exchange for log tests.
func schemasExchange(method, url string, status int) schemas.Exchange {
	return schemas.Exchange{
		Method:     method,
		URL:        url,
		Status:     status,
		ReqHeaders: http.Header{"Accept": []string{"application/json"}},
	}
}
