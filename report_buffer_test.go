package iec61850

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport(sq uint32) *Report {
	return &Report{
		RptID:      "rpt",
		DataSetRef: "LD/LLN0$Events",
		SqNum:      sq,
		Entries:    []ReportEntry{{Index: 0, Reference: "LD/GGIO1$ST$Ind1$stVal", Value: NewBooleanValue(true), Reason: REASON_DATA_CHANGE}},
	}
}

func TestReportBuffer(t *testing.T) {
	b := newReportBuffer(65536)

	r1, r2, r3 := testReport(0), testReport(1), testReport(2)
	require.NoError(t, b.add(r1))
	require.NoError(t, b.add(r2))
	assert.Equal(t, entryIDBytes(1), r1.EntryID)
	assert.Equal(t, entryIDBytes(2), r2.EntryID)
	assert.Equal(t, 2, b.count())

	assert.Equal(t, []*Report{r1, r2}, b.unsent())
	assert.Nil(t, b.unsent())

	require.NoError(t, b.add(r3))
	assert.Equal(t, []*Report{r3}, b.unsent())

	b.markUnsent(r2.EntryID)
	assert.Equal(t, []*Report{r2, r3}, b.unsent())

	// Unknown or malformed IDs do not move the send position.
	b.markUnsent(entryIDBytes(99))
	b.markUnsent([]byte{1})
	assert.Nil(t, b.unsent())

	assert.True(t, b.resync(r1.EntryID))
	assert.Equal(t, []*Report{r2, r3}, b.unsent())
	assert.True(t, b.resync(make([]byte, 8)))
	assert.Equal(t, []*Report{r1, r2, r3}, b.unsent())
	assert.False(t, b.resync(entryIDBytes(42)))
	assert.False(t, b.resync(nil))

	b.purge()
	assert.Zero(t, b.count())
	assert.Nil(t, b.unsent())

	// Entry IDs keep counting after a purge.
	r4 := testReport(3)
	require.NoError(t, b.add(r4))
	assert.Equal(t, entryIDBytes(4), r4.EntryID)
}

func TestReportBufferOverflow(t *testing.T) {
	b := newReportBuffer(encodedSize(t, testReport(0)) + 1)

	r1 := testReport(0)
	require.NoError(t, b.add(r1))
	assert.False(t, r1.BufOvfl)
	assert.Equal(t, 1, b.count())

	// The new report does not fit next to r1, which is dropped.
	r2 := testReport(1)
	require.NoError(t, b.add(r2))
	assert.True(t, r2.BufOvfl)
	assert.Equal(t, 1, b.count())
	assert.Equal(t, []*Report{r2}, b.unsent())
	assert.False(t, b.resync(r1.EntryID))
}

func TestReportBufferOverflowKeepsSendPosition(t *testing.T) {
	b := newReportBuffer(2*encodedSize(t, testReport(0)) + 1)

	r1, r2, r3 := testReport(0), testReport(1), testReport(2)
	require.NoError(t, b.add(r1))
	require.NoError(t, b.add(r2))
	assert.Equal(t, []*Report{r1, r2}, b.unsent())

	require.NoError(t, b.add(r3))
	assert.True(t, r3.BufOvfl)
	assert.Equal(t, 2, b.count())
	assert.Equal(t, []*Report{r3}, b.unsent())
}

func encodedSize(t *testing.T, r *Report) int {
	t.Helper()
	b := newReportBuffer(1 << 20)
	require.NoError(t, b.add(r))
	return b.size
}

func TestReportBufferRejectsOversizedReport(t *testing.T) {
	b := newReportBuffer(encodedSize(t, testReport(0)))

	r1 := testReport(0)
	require.NoError(t, b.add(r1))

	big := testReport(1)
	big.Entries = append(big.Entries, ReportEntry{Index: 1, Reference: "LD/GGIO1$ST$Ind2$stVal", Value: NewBooleanValue(false), Reason: REASON_DATA_CHANGE})
	assert.ErrorIs(t, b.add(big), errReportTooLarge)
	assert.Nil(t, big.EntryID)
	assert.False(t, big.BufOvfl)

	// The buffer and its entry numbering are untouched.
	assert.Equal(t, 1, b.count())
	assert.LessOrEqual(t, b.size, b.maxSize)
	assert.Equal(t, []*Report{r1}, b.unsent())

	r2 := testReport(2)
	require.NoError(t, b.add(r2))
	assert.Equal(t, entryIDBytes(2), r2.EntryID)
	assert.True(t, r2.BufOvfl)
}
