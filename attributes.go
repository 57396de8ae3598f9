package s3trace

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	BucketNameKey = attribute.Key("s3.bucket_name")
	ObjectKeyKey  = attribute.Key("s3.object_key")
)

// AttributeMapping связывает поле запроса с именем атрибута спана.
type AttributeMapping struct {
	Field     string
	Attribute attribute.Key
}

// AttributeRule: упорядоченный набор отображений. Применяется в порядке объявления.
type AttributeRule []AttributeMapping

// DefaultAttributeRule копирует бакет и ключ объекта из запроса S3.
var DefaultAttributeRule = AttributeRule{
	{Field: "Bucket", Attribute: BucketNameKey},
	{Field: "Key", Attribute: ObjectKeyKey},
}
