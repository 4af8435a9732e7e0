// datamanager/index.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package datamanager

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mmp/enroute/download"
	"github.com/mmp/enroute/util"
)

// IndexTimeFormat is the layout of the "time" field of index entries.
const IndexTimeFormat = "20060102"

// MapsIndex is the content of maps.json: a base URL and the map files
// available below it.
type MapsIndex struct {
	URL  string     `json:"url"`
	Maps []MapEntry `json:"maps"`
}

type MapEntry struct {
	// Path is slash-separated and relative to the index URL, e.g.
	// "Europe/Germany.geojson".
	Path string `json:"path"`
	Time string `json:"time"`
	Size int64  `json:"size"`
}

// Date returns the modification date of the entry, or the zero time if
// the entry's time can't be parsed.
func (m MapEntry) Date() time.Time {
	t, err := time.ParseInLocation(IndexTimeFormat, m.Time, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LocalPath returns the path of the map's file relative to the maps
// directory. Compressed maps are stored decompressed.
func (m MapEntry) LocalPath() string {
	return filepath.FromSlash(strings.TrimSuffix(m.Path, ".zst"))
}

// Name returns the map's base name without extension, e.g. "Germany".
func (m MapEntry) Name() string {
	base := path.Base(strings.TrimSuffix(m.Path, ".zst"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Section returns the directory the map lives in, e.g. "Europe".
func (m MapEntry) Section() string {
	if dir := path.Dir(m.Path); dir != "." {
		return path.Base(dir)
	}
	return ""
}

func (m MapEntry) isAviationMap() bool {
	return strings.HasSuffix(m.LocalPath(), ".geojson")
}

func (m MapEntry) isBaseMap() bool {
	return strings.HasSuffix(m.LocalPath(), ".mbtiles")
}

// ParseIndex decodes maps.json. Problems with individual entries are
// reported to e; entries without a usable path are dropped, and entries
// with an invalid time are kept with an unknown date.
func ParseIndex(b []byte, e *util.ErrorLogger) (MapsIndex, error) {
	var idx MapsIndex
	if err := util.UnmarshalJSONBytes(b, &idx); err != nil {
		return MapsIndex{}, err
	}

	if idx.URL == "" {
		e.ErrorString(`"url" not specified`)
	}
	idx.Maps = slices.DeleteFunc(idx.Maps, func(m MapEntry) bool {
		e.Push(fmt.Sprintf("map %q", m.Path))
		defer e.Pop()

		if m.Path == "" || !filepath.IsLocal(filepath.FromSlash(m.Path)) {
			e.ErrorString("invalid path")
			return true
		}
		if m.Date().IsZero() {
			e.ErrorString("invalid time %q", m.Time)
		}
		return false
	})
	return idx, nil
}

// Encode returns the index as indented JSON.
func (idx MapsIndex) Encode() ([]byte, error) {
	return json.MarshalIndent(idx, "", "    ")
}

// IsBucketListing reports whether rawURL names a gs:// or s3:// prefix
// whose listing stands in for maps.json.
func IsBucketListing(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "gs://") && !strings.HasPrefix(rawURL, "s3://") {
		return false
	}
	return !strings.HasSuffix(rawURL, ".json")
}

// IndexFromListing builds the index for the objects of a bucket listing.
// Objects that are neither aviation maps nor base maps are skipped.
func IndexFromListing(base string, objs []download.ObjectInfo) MapsIndex {
	idx := MapsIndex{URL: strings.TrimSuffix(base, "/")}
	for _, obj := range objs {
		m := MapEntry{Path: obj.Name, Size: obj.Size}
		if !obj.LastModified.IsZero() {
			m.Time = obj.LastModified.UTC().Format(IndexTimeFormat)
		}
		if m.isAviationMap() || m.isBaseMap() {
			idx.Maps = append(idx.Maps, m)
		}
	}
	slices.SortFunc(idx.Maps, func(a, b MapEntry) int { return strings.Compare(a.Path, b.Path) })
	return idx
}
