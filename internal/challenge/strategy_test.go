package challenge

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"testing"
)

func TestLiteralCookieStrategy(t *testing.T) {
	t.Parallel()
	page := `<html><script>
document.cookie = "__test=7d9f3a21bc; expires=Thu, 31-Dec-37 23:55:55 GMT; path=/";
location.href = "/?i=1";
</script></html>`
	name, value, ok := literalCookie{}.Attempt(page)
	if !ok {
		t.Fatal("expected literal cookie extraction")
	}
	if name != "__test" || value != "7d9f3a21bc" {
		t.Fatalf("got %s=%s", name, value)
	}
}

func TestLiteralCookieSkipsConcatenation(t *testing.T) {
	t.Parallel()
	// The aes.js page concatenates a computed value; that is not a
	// literal assignment and must fall through to later strategies.
	page := `document.cookie="__test="+toHex(slowAES.decrypt(c,2,a,b))+"; path=/";`
	if _, _, ok := (literalCookie{}).Attempt(page); ok {
		t.Fatal("concatenated assignment treated as literal")
	}
}

func TestAESDecodeStrategy(t *testing.T) {
	t.Parallel()
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	plain := []byte("secret-token-016")

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	ct := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)

	page := fmt.Sprintf(`<script src="/aes.js"></script><script>
var a = toNumbers("%s");
var b = toNumbers("%s");
var c = toNumbers("%s");
document.cookie="__test="+toHex(slowAES.decrypt(c,2,a,b))+"; path=/";
location.href="http://example.test/?i=1";
</script>`, hex.EncodeToString(key), hex.EncodeToString(iv), hex.EncodeToString(ct))

	name, value, ok := aesDecode{}.Attempt(page)
	if !ok {
		t.Fatal("expected decode to yield a token")
	}
	if name != "__test" {
		t.Fatalf("cookie name = %q", name)
	}
	if value != hex.EncodeToString(plain) {
		t.Fatalf("value = %q, want %q", value, hex.EncodeToString(plain))
	}
}

func TestAESDecodeNeedsThreeBlobs(t *testing.T) {
	t.Parallel()
	page := `toNumbers("00112233445566778899aabbccddeeff"); toNumbers("ffeeddccbbaa99887766554433221100");`
	if _, _, ok := (aesDecode{}).Attempt(page); ok {
		t.Fatal("decode succeeded with only two blobs")
	}
}

func TestGenericAssignStrategy(t *testing.T) {
	t.Parallel()
	page := `<script>setCookie("challenge", "deadbeef1234"); /* cookie challenge=deadbeef1234 */</script>`
	name, value, ok := genericAssign{}.Attempt(page)
	if !ok {
		t.Fatal("expected generic extraction")
	}
	if name != "challenge" || value != "deadbeef1234" {
		t.Fatalf("got %s=%s", name, value)
	}
}

func TestBlobPrefixStrategy(t *testing.T) {
	t.Parallel()
	page := `var a = toNumbers("00112233445566778899aabbccddeeff00112233");
document.cookie="__test="+something;`
	name, value, ok := blobPrefix{}.Attempt(page)
	if !ok {
		t.Fatal("expected blob prefix fallback")
	}
	if name != "__test" {
		t.Fatalf("name = %q", name)
	}
	if value != "00112233445566778899aabbccddeeff" {
		t.Fatalf("value = %q", value)
	}
	if len(value) != 32 {
		t.Fatalf("len = %d, want 32", len(value))
	}
}

func TestStrategyOrder(t *testing.T) {
	t.Parallel()
	got := defaultStrategies()
	want := []string{"literal-cookie", "aes-decode", "generic-assign", "blob-prefix"}
	if len(got) != len(want) {
		t.Fatalf("strategy count = %d, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.Name() != want[i] {
			t.Fatalf("strategy[%d] = %s, want %s", i, s.Name(), want[i])
		}
	}
}
