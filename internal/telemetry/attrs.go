package telemetry

import "go.opentelemetry.io/otel/attribute"

func toAttrs(m map[string]string) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, attribute.String(k, v))
	}
	return out
}
