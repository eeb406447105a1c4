package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govline/internal/domain"
)

func TestDecodePayloadByType(t *testing.T) {
	p, err := domain.DecodePayload(domain.RequestBudgetIncrease, `{"newBudget":50000000}`)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetIncreasePayload{NewBudget: 50_000_000}, p)

	p, err = domain.DecodePayload(domain.RequestStatusChange, `{"newStatus":"SUSPENDED"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusChangePayload{NewStatus: domain.ProjectSuspended}, p)

	// payload-less types decode to nil regardless of input
	p, err = domain.DecodePayload(domain.RequestProjectApproval, "")
	require.NoError(t, err)
	assert.Nil(t, p)
	p, err = domain.DecodePayload(domain.RequestUnblock, `{"anything":true}`)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDecodePayloadRejectsBadValues(t *testing.T) {
	_, err := domain.DecodePayload(domain.RequestBudgetIncrease, `{"newBudget":0}`)
	assert.Error(t, err)
	_, err = domain.DecodePayload(domain.RequestBudgetIncrease, `{"newBudget":-10}`)
	assert.Error(t, err)
	_, err = domain.DecodePayload(domain.RequestBudgetIncrease, `garbage`)
	assert.Error(t, err)
	_, err = domain.DecodePayload(domain.RequestStatusChange, `{"newStatus":"ON_FIRE"}`)
	assert.Error(t, err)
}

func TestEncodePayloadRoundTrip(t *testing.T) {
	raw, err := domain.EncodePayload(domain.BudgetIncreasePayload{NewBudget: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"newBudget":42}`, raw)

	raw, err = domain.EncodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
