package schema

import (
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_UnmarshalAcceptsNumbersAndStrings(t *testing.T) {
	var p Parameters
	require.NoError(t, json.Unmarshal([]byte(`{"Height": 3000, "Mark": "A-1", "Offset": -12.5e1}`), &p))

	h, ok := p["Height"].Float()
	require.True(t, ok)
	assert.Equal(t, 3000.0, h)

	m, ok := p["Mark"].Str()
	require.True(t, ok)
	assert.Equal(t, "A-1", m)

	o, _ := p["Offset"].Float()
	assert.Equal(t, -125.0, o)
}

func TestValue_UnmarshalRejectsNestedAndBooleans(t *testing.T) {
	for _, raw := range []string{`{"a":1}`, `[1,2]`, `true`, `false`} {
		var v Value
		err := json.Unmarshal([]byte(raw), &v)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrUnsupportedValue, raw)
	}
}

func TestValue_NullIsReportedSeparately(t *testing.T) {
	var v Value
	err := v.UnmarshalJSON([]byte("null"))
	require.Error(t, err)
	assert.True(t, IsNull(err))
	assert.NotErrorIs(t, err, ErrUnsupportedValue)
}

func TestValue_MarshalRejectsNonFinite(t *testing.T) {
	_, err := json.Marshal(Number(math.NaN()))
	require.Error(t, err)
	_, err = json.Marshal(Number(math.Inf(-1)))
	require.Error(t, err)
	_, err = json.Marshal(Value{})
	require.Error(t, err)
}

func TestValue_EqualDistinguishesKinds(t *testing.T) {
	assert.True(t, Number(1).Equal(Number(1)))
	assert.False(t, Number(1).Equal(Text("1")))
	assert.True(t, Text("x").Equal(Text("x")))
	assert.Equal(t, "3000", Number(3000).String())
	assert.Equal(t, "0.25", Number(0.25).String())
}

func TestElementID_AcceptsIntegersAndStrings(t *testing.T) {
	var rec ElementRecord
	require.NoError(t, json.Unmarshal([]byte(`{"element_id": 316542}`), &rec))
	assert.Equal(t, ElementID("316542"), rec.ElementID)

	require.NoError(t, json.Unmarshal([]byte(`{"element_id": "a7f-001"}`), &rec))
	assert.Equal(t, ElementID("a7f-001"), rec.ElementID)

	require.Error(t, json.Unmarshal([]byte(`{"element_id": 1.5}`), &rec))
	require.Error(t, json.Unmarshal([]byte(`{"element_id": {"x": 1}}`), &rec))
}

func TestCompareElementIDs_NumericBeforeLexical(t *testing.T) {
	ids := []ElementID{"b", "100", "9", "a", "-3"}
	sort.Slice(ids, func(i, j int) bool { return CompareElementIDs(ids[i], ids[j]) < 0 })
	assert.Equal(t, []ElementID{"-3", "9", "100", "a", "b"}, ids)
}

func TestRecord_NormalizeDefaultsBucketsAndHierarchy(t *testing.T) {
	rec := ElementRecord{ElementID: "1", Hierarchy: Hierarchy{Category: "Walls", Family: "  "}}.Normalize()

	assert.Equal(t, Hierarchy{Category: "Walls", Family: Unknown, Type: Unknown}, rec.Hierarchy)
	assert.NotNil(t, rec.BuiltInParameters)
	assert.NotNil(t, rec.SharedParameters)
	assert.NotNil(t, rec.ProjectParameters)
	assert.Equal(t, 0, rec.ParameterCount())
}

func TestRecordSet_IDsAreOrdered(t *testing.T) {
	rs := NewRecordSet([]string{"Walls"}, testTime())
	rs.Add(ElementRecord{ElementID: "20"})
	rs.Add(ElementRecord{ElementID: "3"})
	rs.Add(ElementRecord{ElementID: "x"})

	assert.Equal(t, []ElementID{"3", "20", "x"}, rs.IDs())
	assert.Equal(t, Version, rs.Metadata.SchemaVersion)
}

func TestBucket_ValidAndAccess(t *testing.T) {
	rec := ElementRecord{SharedParameters: Parameters{"Fire Rating": Text("EI60")}}
	assert.True(t, BucketShared.Valid())
	assert.False(t, Bucket("instance_parameters").Valid())
	assert.Len(t, rec.Bucket(BucketShared), 1)
	assert.Nil(t, rec.Bucket(Bucket("nope")))
}
