// Package persistence writes archival records to disk.
package persistence

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

// DataFile describes a JSON file written by WriteDataFile.
type DataFile struct {
	// Prefix is the data directory the file was written under.
	Prefix string
	// Datatype is the first path component after Prefix.
	Datatype string
	// Subtest is part of the file name and can be empty.
	Subtest string
	// UUID is the suffix of the file name before the extension.
	UUID string
	// Path is the full path of the written file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// WriteDataFile marshals result as JSON and writes it to a new file with path:
//
//	<datadir>/<datatype>/YYYY/MM/DD/<datatype>-<subtest>-<timestamp>.<uuid>.json
//
// The file must not exist already.
func WriteDataFile(datadir, datatype, subtest, uuid string, result interface{}) (*DataFile, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := datatype + "-"
	if subtest != "" {
		name += subtest + "-"
	}
	name += timestamp.Format("20060102T150405.000000000Z") + "." + uuid + ".json"
	filepath := path.Join(dir, name)
	fp, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := fp.Write(data)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     filepath,
		Size:     n,
	}, nil
}
