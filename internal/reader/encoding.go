package reader

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultEncoding applies when an upload declares none.
const DefaultEncoding = "utf-8"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode wraps r so it yields UTF-8 text decoded from enc. Invalid input
// surfaces as *EncodingError from Read. A leading byte order mark is dropped.
func decode(r io.Reader, enc string) (io.Reader, error) {
	if strings.TrimSpace(enc) == "" {
		enc = DefaultEncoding
	}
	e, err := htmlindex.Get(enc)
	if err != nil {
		return nil, &EncodingError{Encoding: enc, Err: err}
	}
	name, _ := htmlindex.Name(e)
	if name == "utf-8" {
		br := bufio.NewReader(r)
		if b, _ := br.Peek(len(utf8BOM)); bytes.Equal(b, utf8BOM) {
			br.Discard(len(utf8BOM))
		}
		return newValidator(br, enc, false), nil
	}
	return newValidator(transform.NewReader(r, e.NewDecoder()), enc, true), nil
}

// validator passes UTF-8 through and fails on the first invalid sequence.
// When decoded is set the input came out of a decoder, which marks bytes it
// could not map with U+FFFD, so that rune is rejected too.
type validator struct {
	br      *bufio.Reader
	enc     string
	decoded bool
	offset  int64
	pending []byte
}

func newValidator(r io.Reader, enc string, decoded bool) *validator {
	return &validator{br: bufio.NewReader(r), enc: enc, decoded: decoded}
}

func (v *validator) Read(p []byte) (int, error) {
	n := 0
	if len(v.pending) > 0 {
		n = copy(p, v.pending)
		v.pending = v.pending[n:]
		return n, nil
	}
	var buf [utf8.UTFMax]byte
	for n < len(p) {
		r, size, err := v.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if r == utf8.RuneError && (size == 1 || v.decoded) {
			return n, &EncodingError{Encoding: v.enc, Offset: v.offset}
		}
		v.offset += int64(size)
		w := utf8.EncodeRune(buf[:], r)
		c := copy(p[n:], buf[:w])
		n += c
		if c < w {
			v.pending = append(v.pending[:0], buf[c:w]...)
			break
		}
	}
	return n, nil
}

// DetectEncoding guesses the character set of a file from its first
// sniffLimit bytes. Pure ASCII reports utf-8.
func DetectEncoding(fs afero.Fs, path string, sniffLimit int) (string, error) {
	if sniffLimit <= 0 {
		sniffLimit = DefaultSnifferMaxSample
	}
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sample, err := io.ReadAll(io.LimitReader(f, int64(sniffLimit)))
	if err != nil {
		return "", err
	}
	if utf8.Valid(sample) {
		return DefaultEncoding, nil
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil {
		return "", err
	}
	if _, err := htmlindex.Get(res.Charset); err != nil {
		return DefaultEncoding, nil
	}
	return strings.ToLower(res.Charset), nil
}
