package obs

import "go.opentelemetry.io/otel/attribute"

func correlationAttr(id string) attribute.KeyValue {
	return attribute.String("correlation.id", id)
}
