package util

import (
	"testing"
)

func TestExpandEnvUniversal(t *testing.T) {
	t.Setenv("ADSPEND_TEST_DIR", "/srv/data")
	t.Setenv("ADSPEND_TEST_USER", "etl")

	testCases := []struct {
		name       string
		input      string
		wantOutput string
	}{
		{name: "no variables", input: "plain string", wantOutput: "plain string"},
		{name: "unix style", input: "$ADSPEND_TEST_DIR/in.csv", wantOutput: "/srv/data/in.csv"},
		{name: "unix braces", input: "${ADSPEND_TEST_DIR}/in.csv", wantOutput: "/srv/data/in.csv"},
		{name: "windows style", input: "%ADSPEND_TEST_DIR%\\in.csv", wantOutput: "/srv/data\\in.csv"},
		{name: "mixed", input: "postgres://$ADSPEND_TEST_USER@%ADSPEND_TEST_DIR%", wantOutput: "postgres://etl@/srv/data"},
		{name: "missing vars become empty", input: "a$ADSPEND_TEST_MISSING-%ADSPEND_TEST_MISSING%b", wantOutput: "a-b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExpandEnvUniversal(tc.input); got != tc.wantOutput {
				t.Errorf("ExpandEnvUniversal(%q) = %q, want %q", tc.input, got, tc.wantOutput)
			}
		})
	}
}

func TestMaskCredentials(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "uri with password", input: "postgres://etl:s3cret@db:5432/ads", want: "postgres://etl:********@db:5432/ads"},
		{name: "uri without password", input: "postgres://etl@db/ads", want: "postgres://etl@db/ads"},
		{name: "uri without userinfo", input: "postgres://db/ads", want: "postgres://db/ads"},
		{name: "password with at sign", input: "postgres://etl:p@ss@db/ads", want: "postgres://etl:********@db/ads"},
		{name: "uri password query param", input: "postgres://etl@db/ads?password=x1", want: "postgres://etl@db/ads?password=********"},
		{name: "keyword form", input: "host=db user=etl password=s3cret dbname=ads", want: "host=db user=etl password=******** dbname=ads"},
		{name: "keyword quoted", input: "host=db password='a b' dbname=ads", want: "host=db password=******** dbname=ads"},
		{name: "no credentials", input: "host=db dbname=ads", want: "host=db dbname=ads"},
		{name: "empty", input: "", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaskCredentials(tc.input); got != tc.want {
				t.Errorf("MaskCredentials(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
