package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		orig := appIdentity
		appIdentity = &AppIdentity{AppName: "ReactBench", BinaryName: "reactbench"}
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.NotNil(t, result)
		assert.Equal(t, "reactbench", result.BinaryName)
	})
}

func TestExitError(t *testing.T) {
	t.Run("carries code and message", func(t *testing.T) {
		err := exitError(3, "Something broke", nil)

		var coded *exitCodeError
		assert.ErrorAs(t, err, &coded)
		assert.Equal(t, 3, coded.code)
		assert.Equal(t, "Something broke", err.Error())
	})

	t.Run("wraps cause", func(t *testing.T) {
		cause := assert.AnError
		err := exitError(1, "Batch failed", cause)

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "Batch failed")
		assert.Contains(t, err.Error(), cause.Error())
	})
}
