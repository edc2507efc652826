package extract_test

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/extract"

	"github.com/stretchr/testify/require"
)

const fioSummary = `{
  "success": true,
  "test_type": "quick_max_mix",
  "data": {
    "fio version": "fio-3.36",
    "jobs": [
      {"jobname": "seq_read", "read": {"bw": 3944, "iops": 982.05}}
    ]
  }
}`

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		then     string
	}{
		{
			scenario: "json only",
			given:    `{"success": true}`,
			then:     `{"success": true}`,
		},
		{
			scenario: "logs before",
			given:    "INFO starting fio\nWARN fio: direct I/O not supported\n" + `{"success": true}`,
			then:     `{"success": true}`,
		},
		{
			scenario: "logs before and after",
			given:    "progress 10%\nprogress 100%\n" + `{"success": false, "error": "x"}` + "\nDone.\n",
			then:     `{"success": false, "error": "x"}`,
		},
		{
			scenario: "last wins",
			given:    `{"phase": "warmup"}` + "\nlog line\n" + `{"success": true, "n": 2}`,
			then:     `{"success": true, "n": 2}`,
		},
		{
			scenario: "nested object returns outermost",
			given:    "log\n" + `{"a": {"b": {"c": 1}}}` + "\n",
			then:     `{"a": {"b": {"c": 1}}}`,
		},
		{
			scenario: "braces in strings",
			given:    `{"msg": "weird } brace {", "success": true}`,
			then:     `{"msg": "weird } brace {", "success": true}`,
		},
		{
			scenario: "escaped quote in string",
			given:    `noise {"msg": "say \"}\" now", "success": true} tail`,
			then:     `{"msg": "say \"}\" now", "success": true}`,
		},
		{
			scenario: "stray brace after json",
			given:    `{"success": true}` + "\nfio: {unbalanced",
			then:     `{"success": true}`,
		},
		{
			scenario: "stray brace before json",
			given:    "fio: {unbalanced\n" + `{"success": true}`,
			then:     `{"success": true}`,
		},
		{
			scenario: "invalid braces after valid object",
			given:    `{"success": true}` + "\n[job] {not json}\n",
			then:     `{"success": true}`,
		},
		{
			scenario: "multi line",
			given:    "fio output follows\n" + fioSummary + "\n",
			then:     fioSummary,
		},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			got := extract.ExtractJSON(tc.given)
			require.Equal(t, tc.then, got)
			require.True(t, json.Valid([]byte(got)))
		})
	}
}

func TestExtractJSON_Identity(t *testing.T) {
	t.Parallel()
	for _, given := range []string{
		"",
		"no json at all",
		"fio: error { unbalanced",
		"{not json}",
		"[1, 2, 3]",
	} {
		require.Equal(t, given, extract.ExtractJSON(given))
	}
}

func TestParseResult(t *testing.T) {
	t.Parallel()
	result, err := extract.ParseResult("starting\n" + `{"success": true, "data": {"answer": 42}}` + "\nbye\n")
	require.NoError(t, err)
	require.True(t, result.Success())
	data := result["data"].(map[string]any)
	require.EqualValues(t, 42, data["answer"])
}

func TestParseResult_Errors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		line     int
	}{
		{"empty", "  \n", 0},
		{"no object", "fio: something failed\n", 1},
		{"truncated", "{\n\"success\": tru", 2},
		{"logs without object", "line one\nline two", 1},
		{"array", "[1, 2]", 1},
		{"null", "null", 1},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := extract.ParseResult(tc.given)
			require.Error(t, err)
			var jerr *diskerrors.JSONParsingError
			require.ErrorAs(t, err, &jerr)
			require.Equal(t, tc.line, jerr.LineNo)
			require.LessOrEqual(t, len(jerr.ContentPreview), diskerrors.PreviewLimit+len("...(truncated)"))
		})
	}
}

func TestParseResult_MultibytePreview(t *testing.T) {
	t.Parallel()
	for pad := range 3 {
		given := `{"note": "` + strings.Repeat("€", 100) + strings.Repeat("x", pad)
		_, err := extract.ParseResult(given)
		var jerr *diskerrors.JSONParsingError
		require.ErrorAs(t, err, &jerr)
		require.True(t, utf8.ValidString(jerr.ContentPreview), "pad %d", pad)
		require.True(t, strings.HasSuffix(given, jerr.ContentPreview), "pad %d", pad)
	}
}

func TestValidator(t *testing.T) {
	t.Parallel()
	v, err := extract.NewValidator()
	require.NoError(t, err)

	ok, err := extract.ParseResult(`{"success": false, "error": "device busy"}`)
	require.NoError(t, err)
	require.NoError(t, v.Validate(ok))

	missing, err := extract.ParseResult(`{"data": {}}`)
	require.NoError(t, err)
	err = v.Validate(missing)
	require.Error(t, err)
	var jerr *diskerrors.JSONParsingError
	require.ErrorAs(t, err, &jerr)

	wrongType, err := extract.ParseResult(`{"success": "yes"}`)
	require.NoError(t, err)
	require.Error(t, v.Validate(wrongType))
}
