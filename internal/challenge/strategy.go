package challenge

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"regexp"
)

// Strategy inspects an interstitial page body and tries to derive the
// bypass cookie the page's script would have set. Strategies are
// evaluated in order of confidence; the first hit per hop wins.
type Strategy interface {
	Name() string
	Attempt(body string) (name, value string, ok bool)
}

// defaultStrategies returns the ordered strategy list. New strategies
// slot in here without touching the resolver's control flow.
func defaultStrategies() []Strategy {
	return []Strategy{
		literalCookie{},
		aesDecode{},
		genericAssign{},
		blobPrefix{},
	}
}

var (
	// document.cookie = "__test=0123abcd...; expires=..."
	reLiteralCookie = regexp.MustCompile(`document\.cookie\s*=\s*"(\w+)=([^";+]+)`)

	// toNumbers("0f1e2d...") hex blobs fed to the page cipher
	reHexBlob = regexp.MustCompile(`toNumbers\("([0-9a-fA-F]+)"\)`)

	// cookie name in a concatenated assignment: document.cookie = "__test=" + ...
	reCookieName = regexp.MustCompile(`document\.cookie\s*=\s*"(\w+)="`)

	// any name=hexvalue pair mentioned near a cookie assignment
	reGenericAssign = regexp.MustCompile(`cookie[^\n]{0,40}?(\w+)=([0-9a-fA-F]{8,})`)
)

// literalCookie extracts a literal name=value pair embedded in the page
// script. Highest confidence: the page told us the cookie outright.
type literalCookie struct{}

func (literalCookie) Name() string { return "literal-cookie" }

func (literalCookie) Attempt(body string) (string, string, bool) {
	m := reLiteralCookie.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// aesDecode locates three or more hex blobs and tries them
// combinatorially as key/IV/ciphertext under AES-128-CBC, the cipher
// the aes.js interstitial uses. The page gives no success signal beyond
// the decrypt not failing, so the first size-compatible decode wins;
// a false positive just yields a cookie the origin ignores.
type aesDecode struct{}

func (aesDecode) Name() string { return "aes-decode" }

func (aesDecode) Attempt(body string) (string, string, bool) {
	blobs := hexBlobs(body)
	if len(blobs) < 3 {
		return "", "", false
	}
	name := cookieName(body)
	for i := range blobs {
		for j := range blobs {
			for k := range blobs {
				if i == j || i == k || j == k {
					continue
				}
				plain, err := decryptCBC(blobs[i], blobs[j], blobs[k])
				if err != nil {
					continue
				}
				return name, hex.EncodeToString(plain), true
			}
		}
	}
	return "", "", false
}

// genericAssign scans for any other obvious cookie-assignment
// expression in embedded script.
type genericAssign struct{}

func (genericAssign) Name() string { return "generic-assign" }

func (genericAssign) Attempt(body string) (string, string, bool) {
	m := reGenericAssign.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// blobPrefix is the last resort: take the first hex blob's leading
// substring as a plausible token value.
type blobPrefix struct{}

func (blobPrefix) Name() string { return "blob-prefix" }

func (blobPrefix) Attempt(body string) (string, string, bool) {
	m := reHexBlob.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	v := m[1]
	if len(v) > 32 {
		v = v[:32]
	}
	return cookieName(body), v, true
}

func hexBlobs(body string) [][]byte {
	var out [][]byte
	for _, m := range reHexBlob.FindAllStringSubmatch(body, -1) {
		b, err := hex.DecodeString(m[1])
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func cookieName(body string) string {
	if m := reCookieName.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return "__test"
}

func decryptCBC(key, iv, ct []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, aes.KeySizeError(len(iv))
	}
	if len(ct) == 0 || len(ct)%block.BlockSize() != 0 {
		return nil, aes.KeySizeError(len(ct))
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return plain, nil
}
