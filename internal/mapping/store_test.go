package mapping

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rondot/internal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "mappings.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetMissIsNotAnError(t *testing.T) {
	store := openTestStore(t)
	rec, err := store.Get("TRI-037", "C0249")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveAndGetIncrementsUseCount(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode:        "TRI-037",
		ExternalDescription: "LIFT ROLLER STUD",
		SupplierID:          "C0249",
		InternalCode:        "RONDOT-TRI037",
		Method:              internal.MethodFuzzyName,
		Confidence:          92,
		Status:              internal.StatusValidated,
	}))

	first, err := store.Get("TRI-037", "C0249")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.UseCount)
	assert.Equal(t, internal.StatusValidated, first.Status)
	assert.Equal(t, "RONDOT-TRI037", first.InternalCode)

	second, err := store.Get("TRI-037", "C0249")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, second.UseCount, "useCount must be monotonically non-decreasing")
}

func TestSaveNeverDowngradesValidated(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "TRI-037",
		SupplierID:   "C0249",
		InternalCode: "RONDOT-TRI037",
		Method:       internal.MethodFuzzyName,
		Confidence:   95,
		Status:       internal.StatusValidated,
	}))

	// A later automatic write must not silently re-derive a validated record.
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "TRI-037",
		SupplierID:   "C0249",
		Method:       internal.MethodPending,
		Confidence:   0,
		Status:       internal.StatusPending,
	}))

	rec, err := store.Peek("TRI-037", "C0249")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, internal.StatusValidated, rec.Status)
	assert.Equal(t, "RONDOT-TRI037", rec.InternalCode)
	assert.Equal(t, 95, rec.Confidence)
}

func TestSaveUpsertsPending(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "ZZZ-999",
		SupplierID:   "C1",
		Method:       internal.MethodPending,
		Status:       internal.StatusPending,
	}))
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode:        "ZZZ-999",
		ExternalDescription: "mystery part",
		SupplierID:          "C1",
		Method:              internal.MethodPending,
		Status:              internal.StatusPending,
	}))

	rec, err := store.Peek("ZZZ-999", "C1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "mystery part", rec.ExternalDescription)

	pending, err := store.ListPending(10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "upsert must not create a duplicate key")
}

func TestValidateOverridesAnyState(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "ABC-123",
		SupplierID:   "C2",
		Method:       internal.MethodPending,
		Status:       internal.StatusPending,
	}))

	require.NoError(t, store.Validate("ABC-123", "C2", "RONDOT-ABC123"))

	rec, err := store.Peek("ABC-123", "C2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, internal.StatusValidated, rec.Status)
	assert.Equal(t, internal.MethodManual, rec.Method)
	assert.Equal(t, 100, rec.Confidence)
	assert.Equal(t, "RONDOT-ABC123", rec.InternalCode)
}

func TestValidateUnknownKeyCreatesRecord(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Validate("NEW-001", "C3", "RONDOT-NEW001"))

	rec, err := store.Peek("NEW-001", "C3")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, internal.StatusValidated, rec.Status)
}

func TestRejectOnlyTouchesPending(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "PEN-001",
		SupplierID:   "C4",
		Method:       internal.MethodPending,
		Status:       internal.StatusPending,
	}))

	require.NoError(t, store.Reject("PEN-001", "C4"))

	rec, err := store.Peek("PEN-001", "C4")
	require.NoError(t, err)
	assert.Equal(t, internal.StatusRejected, rec.Status)

	assert.ErrorIs(t, store.Reject("PEN-001", "C4"), ErrNotFound)
	assert.ErrorIs(t, store.Reject("NOPE", "C4"), ErrNotFound)
}

func TestStatistics(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "A-1", SupplierID: "C1",
		Method: internal.MethodPending, Status: internal.StatusPending,
	}))
	require.NoError(t, store.Save(internal.MappingRecord{
		ExternalCode: "B-2", SupplierID: "C1", InternalCode: "X",
		Method: internal.MethodFuzzyName, Confidence: 91, Status: internal.StatusValidated,
	}))
	require.NoError(t, store.Validate("C-3", "C1", "Y"))

	stats, err := store.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus["VALIDATED"])
	assert.Equal(t, 1, stats.ByStatus["PENDING"])
	assert.Equal(t, 1, stats.ByMethod["MANUAL"])
	assert.Equal(t, 1, stats.ByMethod["FUZZY_NAME"])
}

func TestRetryTransientRetriesExactlyOnce(t *testing.T) {
	store := openTestStore(t)

	calls := 0
	err := store.retryTransient("TRI-037", func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a transient failure gets one more attempt")

	calls = 0
	persistent := errors.New("database table is locked")
	err = store.retryTransient("TRI-037", func() error {
		calls++
		return persistent
	})
	assert.ErrorIs(t, err, persistent, "a second transient failure must surface")
	assert.Equal(t, 2, calls)

	calls = 0
	fatal := errors.New("UNIQUE constraint failed: supplier_mappings")
	err = store.retryTransient("TRI-037", func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-transient failures are never retried")
}

func TestSaveFailsAfterClose(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	err := store.Save(internal.MappingRecord{
		ExternalCode: "TRI-037",
		SupplierID:   "C1",
		Method:       internal.MethodPending,
		Status:       internal.StatusPending,
	})
	assert.Error(t, err, "a lost write must never be silent")
}

func TestSaveRejectsOutOfRangeConfidence(t *testing.T) {
	store := openTestStore(t)
	err := store.Save(internal.MappingRecord{
		ExternalCode: "A-1", SupplierID: "C1", Confidence: 101,
		Method: internal.MethodFuzzyName, Status: internal.StatusValidated,
	})
	assert.Error(t, err)
}
