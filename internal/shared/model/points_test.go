package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionTypeValid(t *testing.T) {
	for _, typ := range TransactionTypes {
		assert.True(t, typ.Valid(), string(typ))
	}

	tests := []struct {
		name string
		typ  TransactionType
	}{
		{"空类型", ""},
		{"未知类型", "gifted"},
		{"大小写敏感", "Earned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.typ.Valid())
		})
	}
}

func TestRefKindValid(t *testing.T) {
	for _, kind := range []RefKind{RefItem, RefSwap, RefUser, RefTransaction} {
		assert.True(t, kind.Valid(), string(kind))
	}
	assert.False(t, RefKind("order").Valid())
	assert.False(t, RefKind("").Valid())
}

func TestCreditDebit(t *testing.T) {
	credit := &PointsTransaction{Amount: 25}
	assert.True(t, credit.IsCredit())
	assert.False(t, credit.IsDebit())

	debit := &PointsTransaction{Amount: -10}
	assert.True(t, debit.IsDebit())
	assert.False(t, debit.IsCredit())
}
