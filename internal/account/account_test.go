package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccount_MetaValue(t *testing.T) {
	var nilAccount *Account
	assert.Empty(t, nilAccount.MetaValue(MetaObjectGUID))

	a := &Account{}
	assert.False(t, a.Linked())

	a.SetMetaValue(MetaObjectGUID, "0c2f1f6e-5a1b-4c57-9e0a-2d8a1f7e3b10")
	assert.True(t, a.Linked())

	a.SetMetaValue(MetaObjectGUID, "")
	assert.False(t, a.Linked())
	assert.NotContains(t, a.Meta, MetaObjectGUID)
}

func TestAttributeKey(t *testing.T) {
	assert.Equal(t, "attr_telephonenumber", AttributeKey("telephoneNumber"))
}
