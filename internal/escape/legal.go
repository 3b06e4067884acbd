package escape

import (
	"strings"
)

const reservedChars = `<>:"/\|?*`

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Legal reports whether name can be created as an ordinary file or directory on a Windows volume
func Legal(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, reservedChars) {
		return false
	}

	for _, r := range name {
		if r < 0x20 {
			return false
		}
	}

	// Win32 silently strips these, so the created name would differ
	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
		return false
	}

	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
	}
	if _, ok := reservedNames[strings.ToUpper(base)]; ok {
		return false
	}

	return true
}
