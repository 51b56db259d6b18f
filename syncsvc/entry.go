// Package syncsvc speaks the length-prefixed STAT/LIST/SEND/RECV/DATA/
// DONE/DENT/FAIL sub-protocol carried inside a "sync:" stream.
package syncsvc

// POSIX file-type and permission bits, as returned by the device's
// stat(2) and packed into DENT/STAT frames.
const (
	modeIFMT  = 0o170000
	modeIFLNK = 0o120000
	modeIFREG = 0o100000
	modeIFBLK = 0o060000
	modeIFDIR = 0o040000
	modeIFCHR = 0o020000
	modeIFIFO = 0o010000
)

// SyncStat is the result of a STAT request.
type SyncStat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32 // unix seconds
}

// IsDir reports whether the entry is a directory.
func (s SyncStat) IsDir() bool { return s.Mode&modeIFMT == modeIFDIR }

// IsRegular reports whether the entry is a regular file.
func (s SyncStat) IsRegular() bool { return s.Mode&modeIFMT == modeIFREG }

// IsSymlink reports whether the entry is a symbolic link.
func (s SyncStat) IsSymlink() bool { return s.Mode&modeIFMT == modeIFLNK }

// Perm returns the permission bits (the low 9 bits of Mode).
func (s SyncStat) Perm() uint32 { return s.Mode & 0o777 }

// SyncEntry is one row of a LIST response: a SyncStat plus the name the
// device reported it under.
type SyncEntry struct {
	SyncStat
	Name string
}
