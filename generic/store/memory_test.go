package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/accrual-engine/generic"
	"github.com/warp/accrual-engine/generic/store"
	"github.com/warp/accrual-engine/generic/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.Store { return store.NewMemory() })
}

func TestMemory_EventHintNotShared(t *testing.T) {
	// GIVEN: A saved event with a hint
	// WHEN: The caller mutates its hint after saving
	// THEN: The stored copy is unaffected

	ctx := context.Background()
	m := store.NewMemory()

	ev := storetest.Event("emp-1", "e1", generic.NewTimePoint(2023, time.May, 2), 2)
	ev.Hint = &generic.TargetPeriodHint{PeriodID: "p1"}
	require.NoError(t, m.SaveEvent(ctx, ev))
	ev.Hint.PeriodID = "changed"

	got, err := m.GetEvent(ctx, "emp-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, generic.PeriodID("p1"), got.Hint.PeriodID)
}
