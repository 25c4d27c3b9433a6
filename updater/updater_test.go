// Copyright 2024 geyser Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package updater

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"

	"github.com/geyser-io/geyser/config"
	"github.com/geyser-io/geyser/storage"
)

func newWikiServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "token123"})
	})
	mux.HandleFunc("/scp-6000", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/scp-6001", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc(voteModulePath, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "1956234", r.PostForm.Get("pageId"))
		assert.Equal(t, voteModuleName, r.PostForm.Get("moduleName"))
		assert.Equal(t, "token123", r.PostForm.Get(tokenCookie))
		cookie, err := r.Cookie(tokenCookie)
		assert.NoError(t, err)
		assert.Equal(t, "token123", cookie.Value)
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"body":   voteModuleBody,
		}))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestUpdater_Run(t *testing.T) {
	server := newWikiServer(t)
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	assert.NoError(t, err)
	defer db.Close()

	cfg := config.GetDefaultConfig()
	cfg.Wiki.Endpoint = server.URL
	cfg.Wiki.From = 6000
	cfg.Wiki.To = 6002
	cfg.Wiki.RateLimit = 1000
	cfg.Wiki.Timeout = 5 * time.Second

	u, err := NewUpdater(cfg, db)
	assert.NoError(t, err)
	ctx := context.Background()
	assert.NoError(t, u.Run(ctx))

	// scp-6000 is stored with its page id, scp-6001 does not exist
	article, err := db.GetArticle(ctx, "scp-6000")
	assert.NoError(t, err)
	assert.Equal(t, int64(1956234), article.PageId)
	articles, err := db.ListArticles(ctx)
	assert.NoError(t, err)
	assert.Len(t, articles, 1)

	set, err := db.LoadDataset(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, set.Count())
	assert.Equal(t, 2, set.CountUsers())
	assert.Equal(t, 1, set.CountItems())
}

func TestUpdater_RetriesAreRateLimited(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := config.GetDefaultConfig()
	cfg.Wiki.Endpoint = server.URL
	cfg.Wiki.RateLimit = 20 // one token every 50ms
	u, err := NewUpdater(cfg, nil)
	assert.NoError(t, err)
	u.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	start := time.Now()
	_, err = u.get(context.Background(), server.URL+"/scp-6000")
	assert.Error(t, err)
	assert.Equal(t, int32(maxTries), requests.Load())
	// every attempt takes a token, so three attempts span two refill periods
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestUpdater_Cancelled(t *testing.T) {
	server := newWikiServer(t)
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	assert.NoError(t, err)
	defer db.Close()

	cfg := config.GetDefaultConfig()
	cfg.Wiki.Endpoint = server.URL
	cfg.Wiki.From = 6000
	cfg.Wiki.To = 6002
	cfg.Wiki.RateLimit = 1000

	u, err := NewUpdater(cfg, db)
	assert.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, u.Run(ctx), context.Canceled)
}
