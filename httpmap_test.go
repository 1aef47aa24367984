package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMethodFromStringKnownAndOther(t *testing.T) {
	assert.Equal(t, Method{Known: "GET"}, methodFromString("GET"))
	assert.Equal(t, "GET", methodFromString("GET").String())

	other := methodFromString("PROPFIND")
	assert.Equal(t, "", other.Known)
	assert.Equal(t, "PROPFIND", other.String())
}

func TestSchemeFromStringKnownAndOther(t *testing.T) {
	assert.Equal(t, "HTTP", schemeFromString("http").String())
	assert.Equal(t, "HTTPS", schemeFromString("HTTPS").String())
	assert.Equal(t, "gemini", schemeFromString("gemini").String())
}
