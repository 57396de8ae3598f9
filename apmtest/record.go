package apmtest

import (
	"github.com/bytedance/sonic"
)

// Record: полезная нагрузка строки {"span": ...} в том виде, в каком она пришла.
type Record struct {
	raw []byte
}

// NewRecord оборачивает JSON спана. Срез не копируется.
func NewRecord(raw []byte) Record {
	return Record{raw: raw}
}

func (r Record) Raw() []byte {
	return r.raw
}

// String возвращает значение по пути, например r.String("otel", "attributes", "s3.bucket_name").
// Числа и булевы значения приводятся к строке.
func (r Record) String(path ...interface{}) (string, bool) {
	node, err := sonic.Get(r.raw, path...)
	if err != nil || !node.Exists() {
		return "", false
	}

	s, err := node.String()
	if err != nil {
		return "", false
	}

	return s, true
}

// Attribute возвращает OTel-атрибут спана из otel.attributes.
func (r Record) Attribute(name string) (string, bool) {
	return r.String("otel", "attributes", name)
}

func (r Record) Name() string {
	s, _ := r.String("name")
	return s
}

// Decode разбирает запись в v.
func (r Record) Decode(v interface{}) error {
	return sonic.Unmarshal(r.raw, v)
}
