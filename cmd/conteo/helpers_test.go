package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvidal/conteo/internal/reconcile"
	"github.com/mvidal/conteo/internal/types"
)

func TestParseQuantity(t *testing.T) {
	qty, err := parseQuantity("12.5")
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.RequireFromString("12.5")))

	qty, err = parseQuantity("3,25")
	require.NoError(t, err, "decimal comma is accepted")
	assert.True(t, qty.Equal(decimal.RequireFromString("3.25")))

	_, err = parseQuantity("-4")
	assert.Error(t, err, "negative quantities are rejected at the prompt")

	_, err = parseQuantity("abc")
	assert.Error(t, err)
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "-", formatQty(nil))
	assert.Equal(t, "7.5", formatQty(types.DecimalPtr(decimal.RequireFromString("7.5"))))
}

func TestJoinGroups(t *testing.T) {
	row := reconcile.Row{GroupNames1: "TURNO-A", GroupNames3: "TURNO-B, TURNO-C"}
	assert.Equal(t, "1:TURNO-A 3:TURNO-B, TURNO-C", joinGroups(row))
	assert.Equal(t, "", joinGroups(reconcile.Row{}))
}

func TestReconcileFlagsMutuallyExclusive(t *testing.T) {
	reconAcceptedSel = true
	reconRecountSel = true
	defer func() {
		reconAcceptedSel = false
		reconRecountSel = false
	}()

	err := reconcileCmd.RunE(reconcileCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
