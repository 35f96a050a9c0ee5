package publisher

import "github.com/linkedin/goavro/v2"

// goavroCodec compiles schema with goavro, the teacher's own Avro library
// (internal/impl/confluent/processor_schema_registry_encode.go), purely to
// validate the literal before it is sent to the registry — no Avro
// encoding of the JSON payload is performed, since the target registry and
// topic carry the notification as JSON per spec.md §4.6.
func goavroCodec(schema string) (*goavro.Codec, error) {
	return goavro.NewCodec(schema)
}
