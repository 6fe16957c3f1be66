package reporting

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-fitnesse/results"
)

func TestConvertJUnit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "junit.xml")
	require.NoError(t, ConvertJUnit(filepath.Join("testdata", "suite.xml"), out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), xml.Header))

	var suite JUnitSuite
	require.NoError(t, xml.Unmarshal(b, &suite))
	assert.Equal(t, JUnitSuiteName, suite.Name)
	assert.Equal(t, 4, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, 1, suite.Disabled)
	assert.Equal(t, 1, suite.Errors)
	assert.Equal(t, "0.450", suite.Time)
	require.Len(t, suite.Cases, 4)

	byName := map[string]JUnitCase{}
	for _, c := range suite.Cases {
		assert.Equal(t, "SuiteAcceptance", c.Classname)
		byName[c.Name] = c
	}
	assert.Nil(t, byName["TestLogin"].Failure)
	assert.Nil(t, byName["TestLogin"].Error)
	assert.Equal(t, "0.120", byName["TestLogin"].Time)
	require.NotNil(t, byName["TestCheckout"].Failure)
	assert.Equal(t, "2 assertions failed", byName["TestCheckout"].Failure.Message)
	require.NotNil(t, byName["TestBilling"].Error)
	assert.Equal(t, "1 exceptions thrown", byName["TestBilling"].Error.Message)
	assert.Nil(t, byName["TestAudit"].Failure)
}

func TestToJUnit_ErrorMessageMentionsFailures(t *testing.T) {
	raw := &results.RawReport{
		RootPath:    "SuiteX",
		FinalCounts: &results.RawCounts{Right: "0", Wrong: "1", Ignores: "0", Exceptions: "0"},
		Results: []results.RawResult{{
			RelativePageName: "TestY",
			Counts:           results.RawCounts{Right: "1", Wrong: "3", Ignores: "0", Exceptions: "2"},
		}},
	}
	suite, err := ToJUnit(raw)
	require.NoError(t, err)
	require.Len(t, suite.Cases, 1)
	require.NotNil(t, suite.Cases[0].Error)
	assert.Nil(t, suite.Cases[0].Failure)
	assert.Equal(t, "2 exceptions thrown and 3 assertions failed", suite.Cases[0].Error.Message)
	assert.Equal(t, "0.000", suite.Cases[0].Time)
	assert.Equal(t, "0.000", suite.Time)
}

func TestToJUnit_BadCounts(t *testing.T) {
	raw := &results.RawReport{FinalCounts: &results.RawCounts{Right: "many", Wrong: "0", Ignores: "0", Exceptions: "0"}}
	_, err := ToJUnit(raw)
	require.Error(t, err)
}

func TestConvertJUnit_MissingInput(t *testing.T) {
	err := ConvertJUnit(filepath.Join(t.TempDir(), "nope.xml"), filepath.Join(t.TempDir(), "junit.xml"))
	require.Error(t, err)
}
