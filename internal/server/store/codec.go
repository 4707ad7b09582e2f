package store

import (
	"encoding/json"

	"github.com/samber/oops"

	"github.com/Quantum-Ally/Cipherlink-e2ee-platform/internal/domain"
)

func marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code(domain.CodeInternal).Wrap(err)
	}
	return raw, nil
}

func unmarshal(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return oops.Code(domain.CodeInternal).Wrap(err)
	}
	return nil
}
