package version_test

import (
	"encoding/json"
	"testing"

	// Packages
	version "github.com/mutablelogic/go-uploader/pkg/version"
	assert "github.com/stretchr/testify/assert"
)

func Test_Version_001(t *testing.T) {
	assert := assert.New(t)
	assert.NotEmpty(version.Version())
}

func Test_Version_002(t *testing.T) {
	assert := assert.New(t)
	version.GitTag = "v1.2.3"
	t.Cleanup(func() { version.GitTag = "" })

	info := version.Get("uploader")
	assert.Equal("uploader", info.Name)
	assert.Equal("v1.2.3", info.Version)
	assert.Equal("v1.2.3", info.Tag)
	assert.Equal("uploader/v1.2.3", info.String())

	var decoded version.Info
	assert.NoError(json.Unmarshal(version.JSON("uploader"), &decoded))
	assert.Equal(info, decoded)
}
