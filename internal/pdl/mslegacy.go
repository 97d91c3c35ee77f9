package pdl

import (
	"bytes"
	"context"
)

// Word, Excel and other compound document signatures.
var msLegacyPrefixes = []string{
	"PO^Q`",
	"\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1",
	"\xfe7\x00#",
	"\xdb\xa5-\x00\x00\x00",
	"\x31\xbe\x00\x00",
}

const msWordDocOffset = 2112

func probeMSLegacy(in *probeInput) (string, bool) {
	for _, p := range msLegacyPrefixes {
		if bytes.HasPrefix(in.first, []byte(p)) {
			return "", true
		}
	}
	return "", buffer(in.first).hasPrefixAt(msWordDocOffset, "MSWordDoc")
}

// countMSLegacy recognizes the documents only so that they are not taken
// for plain text. Their page count is unknown.
func countMSLegacy(context.Context, *Document) (Result, error) {
	return Result{Pages: 0}, nil
}
