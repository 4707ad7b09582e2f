package codec

import (
	"crypto/rand"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

// EncryptFile splits data into 1 MiB chunks and seals each independently
// with its own IV and tag. The name, size and mime type stay plaintext:
// they are routing metadata the relay may see, not content.
func (c *Codec) EncryptFile(key []byte, recipient domain.UserID, name, mimeType string, data []byte) (domain.FileEnvelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return domain.FileEnvelope{}, err
	}

	total := (len(data) + ChunkSize - 1) / ChunkSize
	if total == 0 {
		total = 1
	}
	chunks := make([]domain.CipherChunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		iv := make([]byte, ivBytes)
		if _, err := rand.Read(iv); err != nil {
			return domain.FileEnvelope{}, oops.Code(domain.CodeInternal).Wrap(err)
		}
		sealed := aead.Seal(nil, iv, data[start:end], nil)
		chunks = append(chunks, domain.CipherChunk{
			Index:      i,
			Ciphertext: sealed[:len(sealed)-tagBytes],
			IV:         iv,
			Tag:        sealed[len(sealed)-tagBytes:],
		})
	}

	return domain.FileEnvelope{
		RecipientID: recipient,
		FileName:    name,
		FileSize:    int64(len(data)),
		MimeType:    mimeType,
		TotalChunks: total,
		Chunks:      chunks,
		Timestamp:   c.now().UnixMilli(),
	}, nil
}

// DecryptFile reassembles an envelope's chunks in ascending index order
// and opens each one. Chunks may arrive out of order; indices must be
// dense and 0-based.
func (c *Codec) DecryptFile(key []byte, env domain.FileEnvelope) ([]byte, error) {
	if len(env.Chunks) != env.TotalChunks {
		return nil, oops.Code(domain.CodeUndecipherable).Errorf("envelope rejected")
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ordered := make([]*domain.CipherChunk, env.TotalChunks)
	for i := range env.Chunks {
		ch := &env.Chunks[i]
		if ch.Index < 0 || ch.Index >= env.TotalChunks || ordered[ch.Index] != nil {
			return nil, oops.Code(domain.CodeUndecipherable).Errorf("envelope rejected")
		}
		ordered[ch.Index] = ch
	}

	out := make([]byte, 0, env.FileSize)
	for _, ch := range ordered {
		if len(ch.IV) != ivBytes || len(ch.Tag) != tagBytes {
			return nil, oops.Code(domain.CodeUndecipherable).Errorf("envelope rejected")
		}
		plain, err := aead.Open(nil, ch.IV, append(append([]byte{}, ch.Ciphertext...), ch.Tag...), nil)
		if err != nil {
			return nil, oops.Code(domain.CodeUndecipherable).Errorf("envelope rejected")
		}
		out = append(out, plain...)
	}
	return out, nil
}
