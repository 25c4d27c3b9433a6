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

// Package updater scrapes articles and user votes from the wiki without the
// API and stores them in the vote database.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/geyser-io/geyser/base/log"
	"github.com/geyser-io/geyser/config"
	"github.com/geyser-io/geyser/storage"
)

const (
	voteModulePath = "/ajax-module-connector.php"
	voteModuleName = "pagerate/WhoRatedPageModule"
	tokenCookie    = "wikidot_token7"
	maxTries       = 3
)

// Updater downloads articles and votes from the wiki and writes them to the
// vote database.
type Updater struct {
	cfg        *config.Config
	db         *storage.Database
	jar        *cookiejar.Jar
	client     *http.Client
	bucket     *ratelimit.Bucket
	newBackOff func() backoff.BackOff
}

// NewUpdater creates an updater. Requests share a cookie jar because the vote
// module rejects sessions without the token cookie, and they are paced by a
// token bucket so the wiki is not hammered.
func NewUpdater(cfg *config.Config, db *storage.Database) (*Updater, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Updater{
		cfg: cfg,
		db:  db,
		jar: jar,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Wiki.Timeout,
		},
		bucket: ratelimit.NewBucketWithRate(cfg.Wiki.RateLimit, 1),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// Run scrapes the configured article range. Articles that cannot be fetched
// or parsed are logged and skipped, so a single deleted article does not
// abort a scrape of thousands.
func (u *Updater) Run(ctx context.Context) error {
	token, err := u.fetchToken(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("start update",
		zap.Int("from", u.cfg.Wiki.From),
		zap.Int("to", u.cfg.Wiki.To))
	bar := progressbar.Default(int64(u.cfg.Wiki.To-u.cfg.Wiki.From), "update articles")
	for number := u.cfg.Wiki.From; number < u.cfg.Wiki.To; number++ {
		if err = ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		name := fmt.Sprintf("scp-%03d", number)
		if err = u.updateArticle(ctx, name, token); err != nil {
			if errors.Is(err, errors.NotFound) {
				log.Logger().Debug("skip article", zap.String("article", name))
			} else {
				log.Logger().Warn("failed to update article",
					zap.String("article", name), zap.Error(err))
			}
		}
		_ = bar.Add(1)
	}
	count, err := u.db.CountVotes(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("update complete", zap.Int("n_votes", count))
	return nil
}

// fetchToken obtains the session token the vote module requires. Any request
// to the wiki sets it as a cookie, even for guests.
func (u *Updater) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.cfg.Wiki.Endpoint, nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	req.Header.Set("User-Agent", u.cfg.Wiki.UserAgent)
	resp, err := u.client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	_ = resp.Body.Close()
	endpoint, err := url.Parse(u.cfg.Wiki.Endpoint)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, cookie := range u.jar.Cookies(endpoint) {
		if cookie.Name == tokenCookie {
			return cookie.Value, nil
		}
	}
	return "", errors.NotFoundf("cookie %q", tokenCookie)
}

func (u *Updater) updateArticle(ctx context.Context, name, token string) error {
	body, err := u.get(ctx, u.cfg.Wiki.Endpoint+"/"+name)
	if err != nil {
		return errors.Trace(err)
	}
	pageId, err := ExtractPageId(body)
	if err != nil {
		return errors.Trace(err)
	}
	moduleBody, err := u.getVotes(ctx, pageId, token)
	if err != nil {
		return errors.Trace(err)
	}
	votes, err := ParseVotes(moduleBody, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = u.db.UpsertArticle(ctx, storage.Article{
		Name:       name,
		PageId:     pageId,
		UpdateTime: time.Now(),
	}); err != nil {
		return errors.Trace(err)
	}
	if err = u.db.UpsertVotes(ctx, votes); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Debug("updated article",
		zap.String("article", name),
		zap.Int64("page_id", pageId),
		zap.Int("n_votes", len(votes)))
	return nil
}

// get fetches a URL with retries. Every attempt takes a token from the rate
// limiter, retries included. Missing articles return a not found error
// immediately instead of being retried.
func (u *Updater) get(ctx context.Context, target string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		u.bucket.Wait(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(errors.Trace(err))
		}
		req.Header.Set("User-Agent", u.cfg.Wiki.UserAgent)
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, backoff.Permanent(errors.NotFoundf("%s", target))
		} else if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("GET %s: %s", target, resp.Status)
		}
		body, err := io.ReadAll(resp.Body)
		return body, errors.Trace(err)
	}, backoff.WithBackOff(u.newBackOff()), backoff.WithMaxTries(maxTries))
}

// getVotes posts to the vote module and returns the HTML fragment listing
// the voters.
func (u *Updater) getVotes(ctx context.Context, pageId int64, token string) ([]byte, error) {
	form := url.Values{
		"pageId":        {strconv.FormatInt(pageId, 10)},
		"moduleName":    {voteModuleName},
		"callbackIndex": {"1"},
		tokenCookie:     {token},
	}
	return backoff.Retry(ctx, func() ([]byte, error) {
		u.bucket.Wait(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			u.cfg.Wiki.Endpoint+voteModulePath, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(errors.Trace(err))
		}
		req.Header.Set("User-Agent", u.cfg.Wiki.UserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("POST %s: %s", voteModulePath, resp.Status)
		}
		var answer struct {
			Status string `json:"status"`
			Body   string `json:"body"`
		}
		if err = json.NewDecoder(resp.Body).Decode(&answer); err != nil {
			return nil, backoff.Permanent(errors.Trace(err))
		}
		if answer.Status != "ok" {
			return nil, errors.Errorf("vote module status %q for page %d", answer.Status, pageId)
		}
		return []byte(answer.Body), nil
	}, backoff.WithBackOff(u.newBackOff()), backoff.WithMaxTries(maxTries))
}
