package compute

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"halia/pkg/message"
)

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

func init() {
	for name, h := range hashes {
		register("hash_"+name, 0, 0, digest(h))
		if name != "md5" {
			register("hash_hmac_"+name, 1, 1, mac(h))
		}
	}
}

func digest(newHash func() hash.Hash) fn {
	return func(v message.Value, _ []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		h := newHash()
		h.Write(raw)
		return message.String(hex.EncodeToString(h.Sum(nil))), true
	}
}

// mac keys the hash with the first argument.
func mac(newHash func() hash.Hash) fn {
	return func(v message.Value, args []message.Value) (message.Value, bool) {
		raw, ok := text(v)
		if !ok {
			return message.Value{}, false
		}
		key, ok := text(args[0])
		if !ok {
			return message.Value{}, false
		}
		h := hmac.New(newHash, key)
		h.Write(raw)
		return message.String(hex.EncodeToString(h.Sum(nil))), true
	}
}
