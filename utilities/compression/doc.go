// Package compression provides tools to compress and decompress the FAT16
// disk images package fat mounts.
//
// rsh images are broken up into fixed-size clusters, usually 8-16 KiB each
// (spec.md §3). The emptier an image is, the more clusters consisting of
// entirely null bytes there will be. This means "large" images are mostly
// dead space we don't actually need to store or transfer.
//
// cmd/rsh mounts a -f image directly, but a fixture checked into a repo or
// shipped as a release asset benefits from compression first: the best
// ratio we found was run-length encoding the raw image, then gzipping the
// result. A mostly-empty FAT16 image compresses extremely well this way --
// cmd/rsh's resolveImagePath detects a .gz-suffixed -f path and inflates it
// to a scratch file with DecompressImage before fat.New ever sees it.
//
// There are a variety of run-length encodings; this document refers strictly to
// the algorithm used by the Microsoft BMP file format, also known as RLE8. A
// brief explanation: if a byte B occurs N times where N >= 2, B is written twice,
// followed by a third (unsigned) byte indicating how many additional times B
// occurred. For example:
//
// 		WXXXXXXXXXXXXXXXYZZ
//		W XX 13 Y ZZ 0
//
// This scheme lets us represent runs of up to 257 bytes with three bytes. For
// runs longer than 257 bytes, they are treated as separate runs. For example,
// a run of 300 "X" is represented as `XX 255 XX 41`. Unfortunately, using a byte
// as its own escape sequence means that occurrences of the same byte exactly
// twice are stored as three bytes: the two bytes followed by a null byte
// indicating no further repetition.

package compression
