package kfat

import (
	"strings"
)

// ShortName converts name into the 11 byte key stored in a directory entry.
// The name is split at the first '.', both parts are converted to ASCII upper
// case, cut to 8 and 3 characters and padded with spaces:
//  "test.txt" -> "TEST    TXT"
//  "Makefile" -> "MAKEFILE   "
func ShortName(name string) [11]byte {
	var key [11]byte
	for i := range key {
		key[i] = ' '
	}

	base, ext := name, ""
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}

	for i := 0; i < len(base) && i < 8; i++ {
		key[i] = upper(base[i])
	}
	for i := 0; i < len(ext) && i < 3; i++ {
		key[8+i] = upper(ext[i])
	}
	return key
}

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// entryKey returns the name of h the way ShortName builds lookup keys.
func entryKey(h EntryHeader) [11]byte {
	key := h.Name
	if key[0] == entryKanji {
		key[0] = entryDeleted
	}
	for i := range key {
		key[i] = upper(key[i])
	}
	return key
}

// entryName returns the readable "NAME.EXT" form of h.
func entryName(h EntryHeader) string {
	key := h.Name
	if key[0] == entryKanji {
		key[0] = entryDeleted
	}

	name := strings.TrimRight(string(key[:8]), namePadding)
	ext := strings.TrimRight(string(key[8:]), namePadding)
	if ext != "" {
		name += "." + ext
	}
	return name
}

// cleanPath strips leading slashes from name. isRoot is true if nothing is
// left. Names containing another slash are not in the root directory.
func cleanPath(name string) (clean string, isRoot bool, ok bool) {
	clean = strings.TrimLeft(name, "/")
	if clean == "" || clean == "." {
		return "", true, true
	}
	return clean, false, !strings.Contains(clean, "/")
}
