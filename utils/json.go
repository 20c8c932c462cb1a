package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

type jsonBufferPool struct {
	pool sync.Pool
}

func (p *jsonBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *jsonBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &jsonBufferPool{}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	encoder := sonic.ConfigDefault.NewEncoder(buf)
	if err := encoder.Encode(data); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig overlays an untyped config section (as decoded from YAML)
// onto a typed defaults struct.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}

// PayloadToMap normalizes an arbitrary JSON-serializable payload to a generic
// map so category policies can inspect required fields.
func PayloadToMap(payload interface{}) (map[string]interface{}, error) {
	if payload == nil {
		return nil, fmt.Errorf("payload is nil")
	}

	if m, ok := payload.(map[string]interface{}); ok {
		return m, nil
	}

	raw, err := Marshal(payload)
	if err != nil {
		return nil, err
	}

	var m map[string]interface{}
	if err := sonic.ConfigDefault.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
