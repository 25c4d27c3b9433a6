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

// Package storage persists scraped articles and votes in SQLite and trained
// models in flat files.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
	_ "modernc.org/sqlite"

	"github.com/geyser-io/geyser/dataset"
)

// Article is a scraped wiki page.
type Article struct {
	Name       string
	PageId     int64
	UpdateTime time.Time
}

// Vote is a single user vote on an article.
type Vote struct {
	User    string
	Article string
	Value   int
}

// Database is the SQLite store of articles and votes.
type Database struct {
	db *sql.DB
}

// Open opens a SQLite database and creates missing tables.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d := &Database{db: db}
	if err := d.Init(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return d, nil
}

// Close the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// Init creates tables.
func (d *Database) Init() error {
	// Create tables
	if _, err := d.db.Exec(`
CREATE TABLE IF NOT EXISTS articles (
	name TEXT PRIMARY KEY,
	page_id INTEGER,
	update_time DATETIME
);`); err != nil {
		return errors.Trace(err)
	}
	if _, err := d.db.Exec(`
CREATE TABLE IF NOT EXISTS votes (
	user TEXT,
	article TEXT,
	value INTEGER,
	PRIMARY KEY (user, article)
);`); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// UpsertArticle inserts an article or refreshes its page id and update time.
func (d *Database) UpsertArticle(ctx context.Context, article Article) error {
	_, err := d.db.ExecContext(ctx, `
INSERT INTO articles (name, page_id, update_time)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	page_id = excluded.page_id,
	update_time = excluded.update_time
`, article.Name, article.PageId, article.UpdateTime.UTC())
	return errors.Trace(err)
}

// GetArticle returns an article by name.
func (d *Database) GetArticle(ctx context.Context, name string) (Article, error) {
	var article Article
	err := d.db.QueryRowContext(ctx, `
SELECT name, page_id, update_time FROM articles WHERE name = ?
`, name).Scan(&article.Name, &article.PageId, &article.UpdateTime)
	if errors.Cause(err) == sql.ErrNoRows {
		return Article{}, errors.NotFoundf("article %q", name)
	} else if err != nil {
		return Article{}, errors.Trace(err)
	}
	return article, nil
}

// ListArticles returns all articles ordered by name.
func (d *Database) ListArticles(ctx context.Context) ([]Article, error) {
	rs, err := d.db.QueryContext(ctx, `
SELECT name, page_id, update_time FROM articles ORDER BY name
`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rs.Close()
	var articles []Article
	for rs.Next() {
		var article Article
		if err = rs.Scan(&article.Name, &article.PageId, &article.UpdateTime); err != nil {
			return nil, errors.Trace(err)
		}
		articles = append(articles, article)
	}
	return articles, errors.Trace(rs.Err())
}

// UpsertVotes replaces the votes of one article in a single transaction. A
// user voting again overwrites the previous value.
func (d *Database) UpsertVotes(ctx context.Context, votes []Vote) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	for _, vote := range votes {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO votes (user, article, value)
VALUES (?, ?, ?)
ON CONFLICT(user, article) DO UPDATE SET
	value = excluded.value
`, vote.User, vote.Article, vote.Value); err != nil {
			_ = tx.Rollback()
			return errors.Trace(err)
		}
	}
	return errors.Trace(tx.Commit())
}

// CountVotes returns the number of stored votes.
func (d *Database) CountVotes(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes`).Scan(&count)
	return count, errors.Trace(err)
}

// LoadDataset loads all votes into an in-memory dataset. Rows are read in
// insertion order so dense indices are assigned the same way on every load.
func (d *Database) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	rs, err := d.db.QueryContext(ctx, `
SELECT user, article, value FROM votes ORDER BY rowid
`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rs.Close()
	set := dataset.NewDataset()
	for rs.Next() {
		var (
			user    string
			article string
			value   int
		)
		if err = rs.Scan(&user, &article, &value); err != nil {
			return nil, errors.Trace(err)
		}
		set.AddVote(user, article, float32(value))
	}
	return set, errors.Trace(rs.Err())
}
