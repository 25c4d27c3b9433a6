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
	"bytes"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/net/html"

	"github.com/geyser-io/geyser/storage"
)

const pageIdMarker = "WIKIREQUEST.info.pageId = "

// ExtractPageId scrapes the internal wikidot page id of an article out of its
// inline script tags.
func ExtractPageId(body []byte) (int64, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, errors.Trace(err)
	}
	pageId := int64(-1)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if pageId >= 0 {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" && !hasAttr(n, "src") {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				if id, ok := cutPageId(n.FirstChild.Data); ok {
					pageId = id
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if pageId < 0 {
		return 0, errors.NotFoundf("page id")
	}
	return pageId, nil
}

func cutPageId(script string) (int64, bool) {
	_, after, found := strings.Cut(script, pageIdMarker)
	if !found {
		return 0, false
	}
	number, _, _ := strings.Cut(after, ";")
	pageId, err := strconv.ParseInt(strings.TrimSpace(number), 10, 64)
	if err != nil {
		return 0, false
	}
	return pageId, true
}

// ParseVotes extracts votes from the body of a WhoRatedPageModule response.
// The body lists pairs of spans, the first naming the user and the second
// holding "+" or "-". A user span without a profile link belongs to a deleted
// account and is skipped together with its vote.
func ParseVotes(body []byte, article string) ([]storage.Vote, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var spans []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "span" {
			spans = append(spans, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	var votes []storage.Vote
	for i := 0; i+1 < len(spans); i += 2 {
		userSpan, voteSpan := spans[i], spans[i+1]
		anchors := childAnchors(userSpan)
		if len(anchors) < 2 {
			// account deleted
			continue
		}
		user := strings.TrimSpace(innerText(anchors[1]))
		if user == "" {
			continue
		}
		value := -1
		if strings.TrimSpace(innerText(voteSpan)) == "+" {
			value = 1
		}
		votes = append(votes, storage.Vote{User: user, Article: article, Value: value})
	}
	return votes, nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func childAnchors(n *html.Node) []*html.Node {
	var anchors []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "a" {
			anchors = append(anchors, c)
		}
	}
	return anchors
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
