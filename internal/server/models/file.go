package models

import "time"

// StorageKind names the backend that holds a file's bytes.
type StorageKind string

const (
	StorageObject   StorageKind = "object"
	StorageLegacy   StorageKind = "legacy"
	StorageDatabase StorageKind = "database"
)

// Location says where a file's bytes live. It is a closed set: only the
// three types below implement it.
type Location interface {
	Kind() StorageKind
	location()
}

// ObjectLocation points at a key in the primary object store.
type ObjectLocation struct{ Key string }

// LegacyLocation points at a path in the legacy blob store.
type LegacyLocation struct{ Path string }

// InlineLocation carries the base64 payload stored in the database row.
type InlineLocation struct{ Data string }

func (ObjectLocation) Kind() StorageKind { return StorageObject }
func (LegacyLocation) Kind() StorageKind { return StorageLegacy }
func (InlineLocation) Kind() StorageKind { return StorageDatabase }

func (ObjectLocation) location() {}
func (LegacyLocation) location() {}
func (InlineLocation) location() {}

// LocationFromColumns rebuilds a Location from the storage_type, file_path and
// file_data columns. Unknown kinds yield nil.
func LocationFromColumns(kind, path string, data *string) Location {
	switch StorageKind(kind) {
	case StorageObject:
		return ObjectLocation{Key: path}
	case StorageLegacy:
		return LegacyLocation{Path: path}
	case StorageDatabase:
		if data == nil {
			return InlineLocation{}
		}
		return InlineLocation{Data: *data}
	default:
		return nil
	}
}

// LocationColumns is the inverse of LocationFromColumns.
func LocationColumns(loc Location) (kind string, path *string, data *string) {
	switch l := loc.(type) {
	case ObjectLocation:
		return string(StorageObject), &l.Key, nil
	case LegacyLocation:
		return string(StorageLegacy), &l.Path, nil
	case InlineLocation:
		return string(StorageDatabase), nil, &l.Data
	default:
		return "", nil, nil
	}
}

// File is one stored file belonging to a transfer.
type File struct {
	ID               string
	TransferID       string
	Position         int
	Filename         string
	OriginalFilename string
	Size             int64
	ContentType      string
	Location         Location
	// UploadStatus is "pending" for record-first files whose bytes have not
	// arrived yet, "completed" otherwise.
	UploadStatus string
	CreatedAt    time.Time
}
