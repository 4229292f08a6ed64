package dsn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse("sqlpool://user:pw@db.example.com:5432/orders?driver=remote&ssl=false")
	require.NoError(t, err)
	assert.Equal(t, "user", p.Username)
	assert.Equal(t, "pw", p.Password)
	assert.Equal(t, "db.example.com", p.Host)
	assert.Equal(t, 5432, p.Port)
	assert.Equal(t, "orders", p.Database)
	assert.Equal(t, "remote", p.Driver)
	assert.Equal(t, "false", p.Params["ssl"])
	_, hasDriverParam := p.Params["driver"]
	assert.False(t, hasDriverParam)
}

func TestParseDefaultsDriver(t *testing.T) {
	p, err := Parse("sqlpool://db.example.com/orders")
	require.NoError(t, err)
	assert.Equal(t, "sqldriver", p.Driver)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}

func TestParseRejectsWrongScheme(t *testing.T) {
	_, err := Parse("postgres://db.example.com/orders")
	assert.Error(t, err)
}

func TestParseRejectsMissingHost(t *testing.T) {
	_, err := Parse("sqlpool:///orders")
	assert.Error(t, err)
}

func TestParseRejectsBadPort(t *testing.T) {
	_, err := Parse("sqlpool://db.example.com:notaport/orders")
	assert.Error(t, err)
}

func TestEndpointExplicit(t *testing.T) {
	p := &Parsed{Host: "db.example.com", Params: map[string]string{"endpoint": "https://gateway.internal"}}
	assert.Equal(t, "https://gateway.internal", Endpoint(p))
}

func TestEndpointDerivedWithSSLDisabled(t *testing.T) {
	p := &Parsed{Host: "db.example.com", Port: 8080, Params: map[string]string{"ssl": "false"}}
	assert.Equal(t, "http://db.example.com:8080", Endpoint(p))
}

func TestEndpointDerivedDefaultsToHTTPS(t *testing.T) {
	p := &Parsed{Host: "db.example.com"}
	assert.Equal(t, "https://db.example.com", Endpoint(p))
}
