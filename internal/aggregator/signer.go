package aggregator

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignField is the body field that carries the request signature.
const SignField = "sign"

// ErrInvalidSignature reports a missing or mismatched request signature.
var ErrInvalidSignature = errors.New("invalid request signature")

// Signer computes HMAC-SHA256 signatures over canonical request bodies.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for the agent key.
func NewSigner(agentKey string) Signer {
	return Signer{key: []byte(agentKey)}
}

// Sign returns the lowercase hex signature of payload with the sign field removed.
// Keys are sorted and HTML characters are left unescaped.
func (signer Signer) Sign(payload map[string]any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, signer.key)
	_, _ = mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the sign field of a raw JSON object body.
func (signer Signer) Verify(body []byte) error {
	payload, err := DecodeObject(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	provided, _ := payload[SignField].(string)
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, SignField)
	}
	expected, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeObject decodes a JSON object keeping numbers in their original text form.
func DecodeObject(body []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("body is not a json object")
	}
	return payload, nil
}

func canonicalJSON(payload map[string]any) ([]byte, error) {
	unsigned := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == SignField {
			continue
		}
		unsigned[key] = value
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(unsigned); err != nil {
		return nil, fmt.Errorf("encode payload for signing: %w", err)
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}
