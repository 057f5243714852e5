package kfat

// SectorReader is the raw disk read primitive the driver is built on.
// ReadSectors reads count sectors of 512 bytes starting at lba into buf,
// which must hold at least count*512 bytes. Implementations must not retry;
// a read that never returns blocks the whole driver.
// Generated mock using mockgen:
//  mockgen -source=sector.go -destination=sector_mock.go -package kfat
type SectorReader interface {
	ReadSectors(lba uint32, buf []byte, count uint32) error
}

// sectorSize is the size of a sector as read by a SectorReader.
const sectorSize = 512
