package emitter

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Supported sealing algorithms.
const (
	AlgorithmAES256GCM         = "aes-256-gcm"
	AlgorithmChaCha20Poly1305  = "chacha20-poly1305"
	AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"
)

// StateVersion is written into every serialized state.
const StateVersion = 1

// FormatSettings selects how state is serialized. Key and IV are base64 encoded.
// When Type is set, decoding rejects state written by another emitter type.
type FormatSettings struct {
	Type      string `json:"type,omitempty" yaml:"type"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm"`
	Key       string `json:"key,omitempty" yaml:"key"`
	IV        string `json:"iv,omitempty" yaml:"iv"`
}

// State is the self-describing snapshot of an emitter.
type State struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	Identity  Identity        `json:"identity"`
	Config    json.RawMessage `json:"config"`
	LastEvent json.RawMessage `json:"lastEvent,omitempty"`
}

// NewState captures identity, emitter specific config and the last known event.
func NewState[T any](typ string, id Identity, config any, last *DataEvent[T]) (State, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return State{}, fmt.Errorf("marshal config: %w", err)
	}
	st := State{
		Type:     typ,
		Version:  StateVersion,
		Identity: id,
		Config:   cfg,
	}
	if last != nil {
		evt, err := json.Marshal(last)
		if err != nil {
			return State{}, fmt.Errorf("marshal last event: %w", err)
		}
		st.LastEvent = evt
	}
	return st, nil
}

// DecodeConfig unmarshals the emitter specific config.
func (s State) DecodeConfig(v any) error {
	dec := json.NewDecoder(bytes.NewReader(s.Config))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return integrityf("decode config: %v", err)
	}
	return nil
}

// DecodeLastEvent returns the last known event, or nil when the state has none.
func DecodeLastEvent[T any](s State) (*DataEvent[T], error) {
	if len(s.LastEvent) == 0 || string(s.LastEvent) == "null" {
		return nil, nil
	}
	var evt DataEvent[T]
	if err := json.Unmarshal(s.LastEvent, &evt); err != nil {
		return nil, integrityf("decode last event: %v", err)
	}
	return &evt, nil
}

// EncodeState serializes st as base64 JSON, sealed when format.Encrypted is set.
func EncodeState(st State, format FormatSettings) (string, error) {
	plain, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	if !format.Encrypted {
		return base64.StdEncoding.EncodeToString(plain), nil
	}

	aead, nonce, err := format.aead()
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecodeState reverses EncodeState. Any decoding or authentication failure is ErrIntegrity;
// unusable format settings are a ValidationError.
func DecodeState(data string, format FormatSettings) (State, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return State{}, integrityf("decode base64: %v", err)
	}

	plain := raw
	if format.Encrypted {
		aead, nonce, err := format.aead()
		if err != nil {
			// key material of the wrong size cannot have sealed this state
			var verr *ValidationError
			if errors.As(err, &verr) && verr.mismatch {
				return State{}, integrityf("%s", verr.Reason)
			}
			return State{}, err
		}
		plain, err = aead.Open(nil, nonce, raw, nil)
		if err != nil {
			return State{}, integrityf("open sealed state: %v", err)
		}
	}

	var st State
	if err := json.Unmarshal(plain, &st); err != nil {
		return State{}, integrityf("decode state: %v", err)
	}
	if st.Type == "" {
		return State{}, integrityf("state carries no type tag")
	}
	if st.Version != StateVersion {
		return State{}, integrityf("unsupported state version %d", st.Version)
	}
	if format.Type != "" && st.Type != format.Type {
		return State{}, integrityf("state type %q does not match %q", st.Type, format.Type)
	}
	return st, nil
}

func (f FormatSettings) aead() (cipher.AEAD, []byte, error) {
	if f.Key == "" {
		return nil, nil, Invalid("encryption key is required", "key")
	}
	if f.IV == "" {
		return nil, nil, Invalid("iv is required", "iv")
	}
	key, err := base64.StdEncoding.DecodeString(f.Key)
	if err != nil {
		return nil, nil, Invalid("key is not valid base64", "key")
	}
	iv, err := base64.StdEncoding.DecodeString(f.IV)
	if err != nil {
		return nil, nil, Invalid("iv is not valid base64", "iv")
	}
	if len(key) != 32 {
		return nil, nil, mismatched(fmt.Sprintf("key must be 32 bytes, got %d", len(key)), "key")
	}

	var aead cipher.AEAD
	switch f.Algorithm {
	case AlgorithmAES256GCM, "":
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, nil, Invalid(err.Error(), "key")
		}
		aead, err = cipher.NewGCMWithNonceSize(block, len(iv))
		if err != nil {
			return nil, nil, Invalid(err.Error(), "iv")
		}
	case AlgorithmChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, nil, Invalid(err.Error(), "key")
		}
	case AlgorithmXChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			return nil, nil, Invalid(err.Error(), "key")
		}
	default:
		return nil, nil, Invalid(fmt.Sprintf("unsupported algorithm %q", f.Algorithm), "algorithm")
	}

	if len(iv) != aead.NonceSize() {
		return nil, nil, mismatched(fmt.Sprintf("iv must be %d bytes for %s, got %d", aead.NonceSize(), f.Algorithm, len(iv)), "iv")
	}
	return aead, iv, nil
}
