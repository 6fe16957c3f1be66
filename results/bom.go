package results

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

var (
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
	bomUTF32LE = []byte{0xFF, 0xFE, 0x00, 0x00}
)

// deBOM removes a leading byte order mark. UTF-16 and UTF-32 input is
// transcoded to UTF-8 so the XML decoder can read it.
func deBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, bomUTF32BE):
		return transform.NewReader(br, utf32.UTF32(utf32.BigEndian, utf32.ExpectBOM).NewDecoder())
	case bytes.HasPrefix(head, bomUTF32LE):
		return transform.NewReader(br, utf32.UTF32(utf32.LittleEndian, utf32.ExpectBOM).NewDecoder())
	}
	// Handles UTF-8 and both UTF-16 byte orders, and passes anything else
	// through untouched.
	return transform.NewReader(br, unicode.BOMOverride(transform.Nop))
}

// charsetReader is used as xml.Decoder.CharsetReader. Unicode input has
// already been transcoded by deBOM, whatever the prolog declares.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	if strings.HasPrefix(l, "utf-16") || strings.HasPrefix(l, "utf-32") || l == "utf16" || l == "utf32" {
		return input, nil
	}
	return charset.NewReaderLabel(label, input)
}
