package hikcentral

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Request signing per the vendor's AK/SK scheme.  The canonical string is
// newline-joined in a fixed order; the Content-MD5 line is omitted entirely
// for body-less requests — every later line shifts up, so the signer must
// skip the line rather than leave it empty.

const (
	headerAccept      = "application/json"
	headerContentType = "application/json;charset=UTF-8"

	// signatureHeaders names the x-ca-* headers folded into the signature,
	// lowercase, comma-joined, in canonical order.
	signatureHeaders = "x-ca-key,x-ca-nonce,x-ca-timestamp"
)

// contentMD5 returns the base64-encoded MD5 digest of the request body for
// the Content-MD5 header.
func contentMD5(body []byte) string {
	sum := md5.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// stringToSign builds the canonical string: method, Accept, Content-MD5
// (only when a body is present), Content-Type, the three x-ca headers as
// "name:value" pairs, then the request path without query or host.
func stringToSign(method, md5Value, appKey, nonce, timestamp, path string) string {
	parts := []string{method, headerAccept}
	if md5Value != "" {
		parts = append(parts, md5Value)
	}
	parts = append(parts,
		headerContentType,
		"x-ca-key:"+appKey,
		"x-ca-nonce:"+nonce,
		"x-ca-timestamp:"+timestamp,
		path,
	)
	return strings.Join(parts, "\n")
}

// sign computes the base64-encoded HMAC-SHA256 of the canonical string,
// keyed by the shared application secret.
func sign(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
