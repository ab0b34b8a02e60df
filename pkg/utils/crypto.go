package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/model"
)

// EncryptContent AES-CBC-encrypts plaintext with a fresh random IV and
// returns the base64 ciphertext plus the IV as lowercase hex.
func EncryptContent(key string, plaintext []byte) (ciphertext, ivHex string, err error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", "", errs.Wrap(errs.Crypto, err, "bad key")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", errs.Wrap(errs.Crypto, err, "read iv")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), hex.EncodeToString(iv), nil
}

// DecryptContent reverses EncryptContent.
func DecryptContent(key, ciphertext, ivHex string) ([]byte, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, err, "bad key")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errs.New(errs.Crypto, "bad iv %q", ivHex)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, err, "decode ciphertext")
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, errs.New(errs.Crypto, "ciphertext length %d not block aligned", len(raw))
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

// SealMessage encrypts msg's content in place and marks the payload meta
// with the encryption flag and IV.
func SealMessage(key string, msg *model.MkIXPostMessage) error {
	ciphertext, ivHex, err := EncryptContent(key, []byte(msg.Payload.Content))
	if err != nil {
		return err
	}
	msg.Payload.Content = ciphertext
	if msg.Payload.Meta == nil {
		msg.Payload.Meta = make(map[string]interface{}, 2)
	}
	msg.Payload.Meta["encrypt"] = true
	msg.Payload.Meta["iv"] = ivHex
	return nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errs.New(errs.Crypto, "bad padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errs.New(errs.Crypto, "bad padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errs.New(errs.Crypto, "inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
