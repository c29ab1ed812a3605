// Package hash provides the CRC32-Castagnoli checksum used to detect torn or
// edited manifest files. Go's crc32 package uses hardware instructions for
// the Castagnoli polynomial where available.
package hash
