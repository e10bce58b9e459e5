package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
)

func TestDecodeRecords(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "top level array",
			input: `[{"Description": "a"}, {"Description": "b"}]`,
			want:  2,
		},
		{
			name:  "empty array",
			input: `[]`,
			want:  0,
		},
		{
			name:  "results wrapper",
			input: `{"results": [{"check_id": "CKV_1"}]}`,
			want:  1,
		},
		{
			name:  "findings wrapper",
			input: `{"findings": [{"title": "x"}, {"title": "y"}]}`,
			want:  2,
		},
		{
			name:  "bare object is a single record",
			input: `{"title": "only one"}`,
			want:  1,
		},
		{
			name:    "malformed json",
			input:   `{"results": [`,
			wantErr: true,
		},
		{
			name:    "non-object list entry",
			input:   `["just a string"]`,
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := DecodeRecords([]byte(tc.input))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tc.want)
		})
	}
}

func TestDecodeRecordsFlattensResultGroups(t *testing.T) {
	input := `{
		"Results": [
			{
				"Target": "alpine:3.20",
				"Vulnerabilities": [
					{"VulnerabilityID": "CVE-1", "Severity": "HIGH"},
					{"VulnerabilityID": "CVE-2", "Severity": "LOW"}
				]
			},
			{
				"Target": "Dockerfile",
				"Misconfigurations": [
					{"ID": "DS001", "Severity": "MEDIUM"}
				]
			}
		]
	}`
	records, err := DecodeRecords([]byte(input))
	require.NoError(t, err)
	require.Len(t, records, 3)

	// The group target is carried onto each record.
	assert.Equal(t, "alpine:3.20", records[0]["Target"])
	assert.Equal(t, "CVE-1", records[0]["VulnerabilityID"])
	assert.Equal(t, "Dockerfile", records[2]["Target"])
}

func TestBuildArgsPlaceholders(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "gitleaks",
		[]string{"detect", "--source", "{target}", "--report-path", "{report}"},
		"/src/repo", time.Minute, zap.NewNop())

	args := s.buildArgs("/tmp/out.json")
	assert.Equal(t, []string{"detect", "--source", "/src/repo", "--report-path", "/tmp/out.json"}, args)
}

func TestBuildArgsDefaults(t *testing.T) {
	s := NewExecScanner(schemas.CategoryIaC, "/usr/local/bin/checkov", nil, "/src/repo", time.Minute, zap.NewNop())
	args := s.buildArgs("/tmp/out.json")
	assert.Contains(t, args, "--directory")
	assert.Contains(t, args, "/src/repo")
}

func TestExecScannerReadsStdout(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "sh",
		[]string{"-c", `echo '[{"Description": "leak", "File": "a.txt"}]'`},
		".", time.Minute, zap.NewNop())

	records, exitCode, err := s.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	require.Len(t, records, 1)
	assert.Equal(t, "leak", records[0]["Description"])
}

func TestExecScannerNonzeroExitWithOutputIsNotAFailure(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "sh",
		[]string{"-c", `echo '[{"Description": "leak"}]'; exit 1`},
		".", time.Minute, zap.NewNop())

	records, exitCode, err := s.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode)
	assert.Len(t, records, 1)
}

func TestExecScannerCleanExitNoOutput(t *testing.T) {
	// `true` ignores its argument and prints nothing.
	s := NewExecScanner(schemas.CategorySecrets, "true", nil, ".", time.Minute, zap.NewNop())

	records, exitCode, err := s.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Empty(t, records)
}

func TestExecScannerMissingBinary(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "definitely-not-a-real-scanner-binary", nil, ".", time.Minute, zap.NewNop())

	_, _, err := s.Invoke(context.Background())
	assert.Error(t, err)
}

func TestExecScannerTimeout(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "sleep", []string{"5"}, ".", 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, _, err := s.Invoke(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecScannerUndecodableOutput(t *testing.T) {
	s := NewExecScanner(schemas.CategorySecrets, "sh",
		[]string{"-c", `echo 'this is not json'`},
		".", time.Minute, zap.NewNop())

	_, _, err := s.Invoke(context.Background())
	assert.Error(t, err)
}
