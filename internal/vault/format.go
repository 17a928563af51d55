package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"promptshield/internal/apperr"
)

// magic identifies a vault file; version allows the header layout to
// evolve without breaking detection of foreign/corrupt files.
var magic = [4]byte{'P', 'S', 'V', '1'}

const currentVersion = 1

// kdfParams are the argon2id parameters recorded in the header so a
// vault opened years later still derives the same key even if the
// package's own default parameters change.
type kdfParams struct {
	TimeCost    uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

func defaultKDFParams() kdfParams {
	return kdfParams{TimeCost: 3, MemoryKiB: 64 * 1024, Parallelism: 2, KeyLen: chacha20poly1305.KeySize}
}

func (p kdfParams) deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.TimeCost, p.MemoryKiB, p.Parallelism, p.KeyLen)
}

// payload is the plaintext structure encrypted under the
// passphrase-derived key. MasterIndexKey is the vault-scoped subkey
// (§4.7's K_index) used to derive deterministic token digests; keeping
// it inside the encrypted payload means it never touches disk in the
// clear and rotates only if the whole vault is re-encrypted.
type payload struct {
	MasterIndexKey []byte            `json:"master_index_key"`
	Entries        []storedToken     `json:"entries"`
	ReverseIndex   map[string]string `json:"reverse_index"` // plaintext_hash -> token_string
}

type storedToken struct {
	TokenString    string `json:"token_string"`
	PIIType        string `json:"pii_type"`
	Plaintext      string `json:"plaintext"`
	SourceDocument string `json:"source_document"`
	CreatedAtUnix  int64  `json:"created_at_unix"`
}

// header is the on-disk, unencrypted prefix of a vault file.
type header struct {
	Version uint8
	KDF     kdfParams
	Salt    []byte
	Nonce   []byte
}

func newHeader() (header, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return header{}, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return header{}, fmt.Errorf("generate nonce: %w", err)
	}
	return header{Version: currentVersion, KDF: defaultKDFParams(), Salt: salt, Nonce: nonce}, nil
}

// encodeFile serializes header + AEAD(payload) into a single byte slice.
func encodeFile(h header, key []byte, p payload) ([]byte, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal vault payload: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	ciphertext := aead.Seal(nil, h.Nonce, plain, magic[:])

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(h.Version)
	binary.Write(&buf, binary.BigEndian, h.KDF.TimeCost)    //nolint:errcheck // bytes.Buffer.Write never errors
	binary.Write(&buf, binary.BigEndian, h.KDF.MemoryKiB)   //nolint:errcheck
	buf.WriteByte(h.KDF.Parallelism)
	binary.Write(&buf, binary.BigEndian, h.KDF.KeyLen) //nolint:errcheck
	buf.WriteByte(uint8(len(h.Salt)))
	buf.Write(h.Salt)
	buf.WriteByte(uint8(len(h.Nonce)))
	buf.Write(h.Nonce)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// decodeFile parses the header, derives the key from passphrase, and
// authenticates+decrypts the payload. Returns VaultCorrupt for any
// structural problem and WrongPassphrase when the AEAD tag rejects.
func decodeFile(data []byte, passphrase string) (header, payload, error) {
	r := bytes.NewReader(data)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil || gotMagic != magic {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "not a vault file")
	}
	var h header
	version, err := r.ReadByte()
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated header")
	}
	h.Version = version

	if err := binary.Read(r, binary.BigEndian, &h.KDF.TimeCost); err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated kdf params")
	}
	if err := binary.Read(r, binary.BigEndian, &h.KDF.MemoryKiB); err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated kdf params")
	}
	par, err := r.ReadByte()
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated kdf params")
	}
	h.KDF.Parallelism = par
	if err := binary.Read(r, binary.BigEndian, &h.KDF.KeyLen); err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated kdf params")
	}

	saltLen, err := r.ReadByte()
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated salt length")
	}
	h.Salt = make([]byte, saltLen)
	if _, err := io.ReadFull(r, h.Salt); err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated salt")
	}

	nonceLen, err := r.ReadByte()
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated nonce length")
	}
	h.Nonce = make([]byte, nonceLen)
	if _, err := io.ReadFull(r, h.Nonce); err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated nonce")
	}

	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.VaultCorrupt, "truncated ciphertext")
	}

	key := h.KDF.deriveKey(passphrase, h.Salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return header{}, payload{}, apperr.Wrap(apperr.VaultCorrupt, "init aead", err)
	}
	plain, err := aead.Open(nil, h.Nonce, ciphertext, magic[:])
	if err != nil {
		return header{}, payload{}, apperr.New(apperr.WrongPassphrase, "passphrase rejected")
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return header{}, payload{}, apperr.Wrap(apperr.VaultCorrupt, "unmarshal payload", err)
	}
	return h, p, nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory, fsync, then rename — the same idiom the teacher's
// management.DomainRegistry.persist uses for its domain list, applied
// here to a ciphertext blob instead of JSON.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp vault file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("write temp vault file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("fsync temp vault file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close temp vault file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("rename vault file into place: %w", err)
	}
	return nil
}
