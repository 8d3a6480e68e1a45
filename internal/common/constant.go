// Package common contains shared constants and sentinel errors used across
// studykeeper components.
package common

// Directory names under the data root.
const (
	CurrentDirName = "currentdata"
	UploadDirName  = "uploaddata"
	TempDirName    = "tmpdata"
)

// Known data-stream file extensions.
const (
	ExtCSV = ".csv"
	ExtMP4 = ".mp4"
	ExtWAV = ".wav"
)

// ExtTemp marks binary stream files still being written in the temp
// directory.
const ExtTemp = ".tmp"

// DataExtensions lists every extension a finished stream file may carry.
var DataExtensions = []string{ExtCSV, ExtMP4, ExtWAV}

// IsDataExtension reports whether ext (including the leading dot) belongs to a
// data stream.
func IsDataExtension(ext string) bool {
	for _, e := range DataExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
