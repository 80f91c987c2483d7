package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReturnsNonNilLogger(t *testing.T) {
	t.Parallel()
	log := New("ragindex-test")
	assert.NotNil(t, log)
}

func TestNewDevelopmentReturnsNonNilLogger(t *testing.T) {
	t.Parallel()
	log := NewDevelopment("ragindex-test")
	assert.NotNil(t, log)
}

func TestFromEnvPicksDevelopmentWhenRagindexEnvIsDev(t *testing.T) {
	t.Setenv("RAGINDEX_ENV", "dev")
	log := FromEnv("ragindex-test")
	assert.NotNil(t, log)
}

func TestFromEnvPicksProductionOtherwise(t *testing.T) {
	t.Setenv("RAGINDEX_ENV", "prod")
	log := FromEnv("ragindex-test")
	assert.NotNil(t, log)
}
