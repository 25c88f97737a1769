package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rateio-engine/factory"
	"github.com/warp/rateio-engine/rateio"
)

func TestParseValue_AcceptedForms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"33.33", "33.33"},
		{"33,33", "33.33"},
		{"50%", "50"},
		{" 40 % ", "40"},
		{" 2 ", "2"},
		{"0", "0"},
		{"-10", "-10"},
		{"100.00", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := factory.ParseValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestParseValue_Rejected(t *testing.T) {
	for _, in := range []string{"", "   ", "%", "abc", "1.000,50", "1,2,3", "12kWh",
		"1e2000000", "1E3", "2.5e-1", "0x10", ".", "-", "1.2.3", "1234567890123456789012345"} {
		t.Run(in, func(t *testing.T) {
			_, err := factory.ParseValue(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, factory.ErrInvalidValue)

			var pe *factory.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, -1, pe.Index)
			assert.Equal(t, in, pe.Input)
		})
	}
}

func TestParseValue_MaxDigits(t *testing.T) {
	// GIVEN: 24 digits is the widest accepted value
	d, err := factory.ParseValue("123456789012345678901.234")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901.234", d.String())

	// WHEN: one more digit is added
	_, err = factory.ParseValue("1234567890123456789012.345")

	// THEN: the value is refused before conversion
	assert.ErrorIs(t, err, factory.ErrInvalidValue)
}

func TestParseEntries_ExponentValueReportsIndex(t *testing.T) {
	_, err := factory.ParseEntries([]factory.EntryInput{
		{SubscriberID: "a", Value: "50"},
		{SubscriberID: "b", Value: "1e2000000"},
	})

	var pe *factory.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, "1e2000000", pe.Input)
}

func TestParseEntries_PreservesOrderAndDuplicates(t *testing.T) {
	entries, err := factory.ParseEntries([]factory.EntryInput{
		{SubscriberID: "sub-b", Value: "60"},
		{SubscriberID: " sub-a ", Value: "40,5"},
		{SubscriberID: "sub-b", Value: "1"},
	})

	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, rateio.SubscriberID("sub-b"), entries[0].SubscriberID)
	assert.Equal(t, rateio.SubscriberID("sub-a"), entries[1].SubscriberID)
	assert.Equal(t, "40.5", entries[1].RawValue.String())
	assert.Equal(t, rateio.SubscriberID("sub-b"), entries[2].SubscriberID)
}

func TestParseEntries_ReportsIndex(t *testing.T) {
	_, err := factory.ParseEntries([]factory.EntryInput{
		{SubscriberID: "sub-a", Value: "50"},
		{SubscriberID: "sub-b", Value: "fifty"},
	})

	var pe *factory.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Index)
	assert.Contains(t, err.Error(), "entries[1].value")
}

func TestParseEntries_MissingSubscriber(t *testing.T) {
	_, err := factory.ParseEntries([]factory.EntryInput{{SubscriberID: "  ", Value: "50"}})

	var pe *factory.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "subscriber_id", pe.Field)
}

func TestParseDraft_FromJSON(t *testing.T) {
	// GIVEN: a body mixing string and number values
	body := []byte(`{
		"mode": "Porcentagem",
		"period": "2026-03",
		"confirmed_kwh": "1.000",
		"entries": [
			{"subscriber_id": "sub-a", "value": 60},
			{"subscriber_id": "sub-b", "value": "40%"}
		]
	}`)

	// WHEN
	d, err := factory.ParseDraft("gen-1", body)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, rateio.GeneratorID("gen-1"), d.GeneratorID)
	assert.Equal(t, rateio.ModePercentage, d.Mode)
	assert.Equal(t, "2026-03", d.Period)
	require.NotNil(t, d.ConfirmedKwh)
	assert.Equal(t, "1", d.ConfirmedKwh.String())
	assert.Equal(t, rateio.StateCollecting, d.State())

	entries := d.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "60", entries[0].RawValue.String())
	assert.Equal(t, "40", entries[1].RawValue.String())
}

func TestParseDraft_UnknownModePassesThrough(t *testing.T) {
	d, err := factory.ParseDraft("gen-1", []byte(`{"mode":"weighted","entries":[]}`))
	require.NoError(t, err)
	assert.False(t, d.Mode.IsValid())
	assert.Empty(t, d.Entries())
}

func TestParseDraft_BadConfirmedKwh(t *testing.T) {
	_, err := factory.ParseDraft("gen-1", []byte(`{"mode":"priority","confirmed_kwh":"lots","entries":[]}`))

	var pe *factory.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "confirmed_kwh", pe.Field)
}

func TestParseDraft_MalformedJSON(t *testing.T) {
	_, err := factory.ParseDraft("gen-1", []byte(`{"mode":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, factory.ErrInvalidValue)
}
