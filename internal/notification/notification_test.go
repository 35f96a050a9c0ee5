package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ExactlyOneVariant(t *testing.T) {
	n := &Notification{EventType: SchemaRegistered, SchemaRegisteredBody: &SchemaRegisteredBody{Schema: "{}"}}
	assert.NoError(t, n.Validate())
}

func TestValidate_ZeroVariants(t *testing.T) {
	n := &Notification{EventType: SchemaRegistered}
	err := n.Validate()
	assert.Error(t, err)
	var verr *ErrVariantCount
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.Count)
}

func TestValidate_MultipleVariants(t *testing.T) {
	n := &Notification{
		SchemaRegisteredBody: &SchemaRegisteredBody{Schema: "{}"},
		SchemaDeletedBody:    &SchemaDeletedBody{Permanent: true},
	}
	err := n.Validate()
	assert.Error(t, err)
	var verr *ErrVariantCount
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 2, verr.Count)
}

func TestMarshalKey(t *testing.T) {
	subject := "orders-value"
	n := &Notification{Subject: &subject}
	assert.Equal(t, "orders-value", n.MarshalKey())

	empty := &Notification{}
	assert.Equal(t, "unknown", empty.MarshalKey())

	blank := ""
	withBlank := &Notification{Subject: &blank}
	assert.Equal(t, "unknown", withBlank.MarshalKey())
}
