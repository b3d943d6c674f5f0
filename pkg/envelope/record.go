package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// CiphertextPrefix marks values produced by EncryptRecord
const CiphertextPrefix = "enc:v1:"

// Payload tags. Each tag decodes back to exactly the Go type it was sealed from.
const (
	payloadString  byte = 's'
	payloadScalar  byte = 'n' // followed by the reflect.Kind byte and strconv text
	payloadNumber  byte = 'N' // json.Number
	payloadStrings byte = 'l' // []string
	payloadStrMap  byte = 'm' // map[string]string
	payloadJSON    byte = 'j' // JSON-native tree: nil, string, bool, float64, []interface{}, map[string]interface{}
)

var scalarTypes = map[reflect.Kind]reflect.Type{
	reflect.Bool:    reflect.TypeOf(false),
	reflect.Int:     reflect.TypeOf(int(0)),
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Int32:   reflect.TypeOf(int32(0)),
	reflect.Int64:   reflect.TypeOf(int64(0)),
	reflect.Uint:    reflect.TypeOf(uint(0)),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Float32: reflect.TypeOf(float32(0)),
	reflect.Float64: reflect.TypeOf(float64(0)),
}

var sensitiveFields = map[string]struct{}{
	"ssn":               {},
	"bank_account":      {},
	"pan_card":          {},
	"aadhar_number":     {},
	"medical_history":   {},
	"financial_info":    {},
	"password":          {},
	"emergency_contact": {},
	"address":           {},
}

// Record is a flat field map as read from or written to the data store
type Record map[string]interface{}

// SensitiveFields returns the encrypted field names, sorted
func SensitiveFields() []string {
	out := make([]string, 0, len(sensitiveFields))
	for f := range sensitiveFields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// IsSensitive reports whether field is encrypted by EncryptRecord
func IsSensitive(field string) bool {
	_, ok := sensitiveFields[field]
	return ok
}

// IsCiphertext reports whether v looks like a value produced by EncryptRecord
func IsCiphertext(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, CiphertextPrefix)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// EncryptRecord returns a copy of rec with every non-empty sensitive field
// replaced by ciphertext. Values that already open under the tenant key for
// the same field are left alone; anything else is encrypted, including
// plaintext that happens to carry the ciphertext prefix. Sensitive values
// whose type would not decrypt back unchanged fail with ErrUnsupportedValue.
func (s *Service) EncryptRecord(ctx context.Context, tenantID string, rec Record) (Record, error) {
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	key, err := s.DeriveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	out := make(Record, len(rec))
	for field, v := range rec {
		if !IsSensitive(field) || isEmpty(v) || sealedFor(aead, tenantID, field, v) {
			out[field] = v
			continue
		}
		ct, err := sealValue(aead, tenantID, field, v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %s: %w", field, err)
		}
		out[field] = ct
	}
	return out, nil
}

// DecryptRecord returns a copy of rec with sensitive fields decrypted. A field
// that does not decrypt keeps its ciphertext and is logged; the call fails
// only when the tenant is unknown or its key cannot be derived.
func (s *Service) DecryptRecord(ctx context.Context, tenantID string, rec Record) (Record, error) {
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	key, err := s.DeriveKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	out := make(Record, len(rec))
	for field, v := range rec {
		out[field] = v
		if !IsSensitive(field) || !IsCiphertext(v) {
			continue
		}
		plain, err := openValue(aead, tenantID, field, v.(string))
		if err != nil {
			s.metrics.RecordFieldDecryptFailure(field)
			s.logger.WithTenant(tenantID).WithField("field", field).WithError(err).Warn("field decryption failed, leaving ciphertext")
			continue
		}
		out[field] = plain
	}
	return out, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return cipher.NewGCM(block)
}

func fieldAAD(tenantID, field string) []byte {
	return []byte(tenantID + "\x00" + field)
}

// sealedFor reports whether v is ciphertext that opens for tenantID and field
func sealedFor(aead cipher.AEAD, tenantID, field string, v interface{}) bool {
	ct, ok := v.(string)
	if !ok || !strings.HasPrefix(ct, CiphertextPrefix) {
		return false
	}
	_, err := openValue(aead, tenantID, field, ct)
	return err == nil
}

func sealValue(aead cipher.AEAD, tenantID, field string, v interface{}) (string, error) {
	payload, err := encodePayload(v)
	if err != nil {
		return "", err
	}
	sealed, err := seal(aead, payload, fieldAAD(tenantID, field))
	if err != nil {
		return "", err
	}
	return CiphertextPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func openValue(aead cipher.AEAD, tenantID, field, ct string) (interface{}, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ct, CiphertextPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	payload, err := open(aead, raw, fieldAAD(tenantID, field))
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func encodePayload(v interface{}) ([]byte, error) {
	switch tv := v.(type) {
	case string:
		return append([]byte{payloadString}, tv...), nil
	case json.Number:
		return append([]byte{payloadNumber}, tv...), nil
	case []string:
		return tagJSON(payloadStrings, tv)
	case map[string]string:
		return tagJSON(payloadStrMap, tv)
	}

	rv := reflect.ValueOf(v)
	if t, ok := scalarTypes[rv.Kind()]; ok && rv.Type() == t {
		var text string
		switch {
		case rv.Kind() == reflect.Bool:
			text = strconv.FormatBool(rv.Bool())
		case rv.CanInt():
			text = strconv.FormatInt(rv.Int(), 10)
		case rv.CanUint():
			text = strconv.FormatUint(rv.Uint(), 10)
		default:
			text = strconv.FormatFloat(rv.Float(), 'g', -1, t.Bits())
		}
		return append([]byte{payloadScalar, byte(rv.Kind())}, text...), nil
	}

	if !jsonNative(v) {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return tagJSON(payloadJSON, v)
}

func tagJSON(tag byte, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{tag}, data...), nil
}

// jsonNative reports whether v is made only of the types encoding/json
// decodes into, so a JSON round trip returns an equal value.
func jsonNative(v interface{}) bool {
	switch tv := v.(type) {
	case nil, string, bool, float64:
		return true
	case []interface{}:
		for _, e := range tv {
			if !jsonNative(e) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		for _, e := range tv {
			if !jsonNative(e) {
				return false
			}
		}
		return true
	}
	return false
}

func decodePayload(payload []byte) (interface{}, error) {
	if len(payload) == 0 {
		return nil, ErrMalformedCiphertext
	}
	body := payload[1:]

	switch payload[0] {
	case payloadString:
		return string(body), nil
	case payloadNumber:
		return json.Number(body), nil
	case payloadScalar:
		if len(body) == 0 {
			return nil, ErrMalformedCiphertext
		}
		return decodeScalar(reflect.Kind(body[0]), string(body[1:]))
	case payloadStrings:
		var v []string
		if err := unmarshalPayload(body, &v); err != nil {
			return nil, err
		}
		return v, nil
	case payloadStrMap:
		var v map[string]string
		if err := unmarshalPayload(body, &v); err != nil {
			return nil, err
		}
		return v, nil
	case payloadJSON:
		var v interface{}
		if err := unmarshalPayload(body, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: unknown payload tag %q", ErrMalformedCiphertext, payload[0])
}

func unmarshalPayload(body []byte, dest interface{}) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return nil
}

func decodeScalar(kind reflect.Kind, text string) (interface{}, error) {
	t, ok := scalarTypes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scalar kind %d", ErrMalformedCiphertext, kind)
	}

	var (
		v   reflect.Value
		err error
	)
	switch {
	case kind == reflect.Bool:
		var b bool
		b, err = strconv.ParseBool(text)
		v = reflect.ValueOf(b)
	case kind >= reflect.Int && kind <= reflect.Int64:
		var n int64
		n, err = strconv.ParseInt(text, 10, t.Bits())
		v = reflect.ValueOf(n)
	case kind >= reflect.Uint && kind <= reflect.Uint64:
		var n uint64
		n, err = strconv.ParseUint(text, 10, t.Bits())
		v = reflect.ValueOf(n)
	default:
		var f float64
		f, err = strconv.ParseFloat(text, t.Bits())
		v = reflect.ValueOf(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return v.Convert(t).Interface(), nil
}

// seal returns nonce || ciphertext
func seal(aead cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func open(aead cipher.AEAD, data, aad []byte) ([]byte, error) {
	n := aead.NonceSize()
	if len(data) < n+aead.Overhead() {
		return nil, ErrMalformedCiphertext
	}
	plain, err := aead.Open(nil, data[:n], data[n:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
