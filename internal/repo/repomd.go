package repo

import (
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

// Index is what repomd.xml says about where the metadata lives.
type Index struct {
	Primary   string
	Other     string
	Group     string
	DBVersion int
}

type repomdXML struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
		DatabaseVersion string `xml:"database_version"`
	} `xml:"data"`
}

// ReadIndex parses repodata/repomd.xml under repoDir. Any problem is a
// *SetupError.
func ReadIndex(repoDir string) (*Index, error) {
	path := filepath.Join(repoDir, "repodata", "repomd.xml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SetupError{Path: path, Msg: "not found, does not look like a repository"}
		}
		return nil, &SetupError{Path: path, Msg: "cannot read", Err: err}
	}

	var doc repomdXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, &SetupError{Path: path, Msg: "invalid XML", Err: err}
	}

	idx := &Index{}
	var version string
	for _, d := range doc.Data {
		href := d.Location.Href
		if href == "" {
			continue
		}
		switch d.Type {
		case "primary_db":
			idx.Primary = filepath.Join(repoDir, filepath.FromSlash(href))
			version = d.DatabaseVersion
		case "other_db":
			idx.Other = filepath.Join(repoDir, filepath.FromSlash(href))
		case "group":
			idx.Group = filepath.Join(repoDir, filepath.FromSlash(href))
		}
	}

	if idx.Primary == "" || version == "" {
		return nil, &SetupError{Path: path, Msg: "sqlite metadata not found; rerun createrepo with database generation enabled"}
	}
	idx.DBVersion, err = strconv.Atoi(version)
	if err != nil {
		return nil, &SetupError{Path: path, Msg: "invalid database_version " + strconv.Quote(version)}
	}
	if idx.DBVersion > SupportedDBVersion {
		return nil, &SetupError{
			Path: path,
			Msg:  "database_version " + version + " is newer than the supported " + strconv.Itoa(SupportedDBVersion),
		}
	}
	return idx, nil
}
