// Copyright 2026 The ExpressOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sfs

import (
	"crypto/cipher"
	"fmt"
	"sort"
)

// PageList holds the cached pages of one file, sorted by index, with at most
// one page per index.
type PageList struct {
	pages []*CachePage
}

// Len returns the number of cached pages.
func (l *PageList) Len() int {
	return len(l.pages)
}

func (l *PageList) search(idx uint32) int {
	return sort.Search(len(l.pages), func(i int) bool { return l.pages[i].Index >= idx })
}

// Lookup returns the page with index idx, or nil.
func (l *PageList) Lookup(idx uint32) *CachePage {
	if i := l.search(idx); i < len(l.pages) && l.pages[i].Index == idx {
		return l.pages[i]
	}
	return nil
}

// Add inserts p. A second page for the same index is a bug.
func (l *PageList) Add(p *CachePage) {
	i := l.search(p.Index)
	if i < len(l.pages) && l.pages[i].Index == p.Index {
		panic(fmt.Sprintf("page %d is already cached", p.Index))
	}
	l.pages = append(l.pages, nil)
	copy(l.pages[i+1:], l.pages[i:])
	l.pages[i] = p
}

// Truncate disposes every page with an index of n or more.
func (l *PageList) Truncate(n uint32) {
	i := l.search(n)
	for _, p := range l.pages[i:] {
		p.Dispose()
	}
	clear(l.pages[i:])
	l.pages = l.pages[:i]
}

// Seal encrypts every page and hands them to the caller in index order. The
// list is empty afterwards.
func (l *PageList) Seal(block cipher.Block) []*CachePage {
	pages := l.pages
	l.pages = nil
	for _, p := range pages {
		p.encrypt(block)
	}
	return pages
}

// Release disposes every page without writing it back.
func (l *PageList) Release() {
	l.Truncate(0)
}
