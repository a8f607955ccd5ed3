package tarball

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA1(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello world"))
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d, err := New(Config{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	sum, err := d.SHA1(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", sum)

	sum, err = d.SHA1(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", sum)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is cached")

	_, err = d.SHA1(ctx, srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = d.SHA1(ctx, srv.URL+"/slow")
	assert.Error(t, err, "download exceeds timeout")
}
