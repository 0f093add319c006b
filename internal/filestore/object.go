package filestore

import (
	"time"
)

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "images/photo.jpg").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time
}

// DefaultDelimiter groups keys into virtual folders.
const DefaultDelimiter = "/"

// MaxPageKeys is the largest page the S3 protocol returns.
const MaxPageKeys = 1000

// PageRequest asks for one page of a delimiter-bounded listing.
type PageRequest struct {
	// Prefix restricts results to keys starting with this string.
	// Use "" to list the bucket root.
	Prefix string

	// Delimiter groups deeper keys into CommonPrefixes. Empty lists
	// recursively.
	Delimiter string

	// Marker is the pagination cursor returned as NextMarker by the
	// previous page. Pass "" to start from the beginning.
	Marker string

	// MaxKeys caps the page size. 0 means MaxPageKeys.
	MaxKeys int
}

// Page is one page of listing results.
type Page struct {
	// CommonPrefixes are the immediate child "folders" of the prefix,
	// each ending with the delimiter.
	CommonPrefixes []string

	// Objects are the keys directly under the prefix.
	Objects []ObjectInfo

	// IsTruncated reports whether more pages follow.
	IsTruncated bool

	// NextMarker is the cursor for the next page when IsTruncated is set.
	NextMarker string
}
